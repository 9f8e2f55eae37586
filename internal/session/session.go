// Package session manages tailoring sessions: creation, human feedback,
// lookup and expiry, with at most one active execution per session.
package session

import (
	"errors"
	"fmt"

	"github.com/dshills/tailorgraph/graph/store"
	"github.com/dshills/tailorgraph/internal/tailor"
)

// ErrSessionBusy is returned when another call is already executing the
// session.
var ErrSessionBusy = errors.New("session is busy")

// NotFoundError reports an unknown or expired session.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.ID)
}

// Unwrap lets errors.Is match store.ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return store.ErrNotFound
}

// NewSession is the input for Create.
type NewSession struct {
	Resume         string
	JobDescription string

	// Request is the optional free-text ask. Empty means tailor the resume
	// to the job description.
	Request string
}

// UpdateType is the type of every pushed Update.
const UpdateType = "state_update"

// Update is pushed to subscribers whenever a session's state is saved.
type Update struct {
	Type            string       `json:"type"`
	SessionID       string       `json:"session_id"`
	State           tailor.State `json:"state"`
	WaitingForHuman bool         `json:"waiting_for_human"`
	PendingQuestion string       `json:"pending_question,omitempty"`
}

func newUpdate(id string, s tailor.State) Update {
	return Update{
		Type:            UpdateType,
		SessionID:       id,
		State:           s,
		WaitingForHuman: s.WaitingForHuman,
		PendingQuestion: s.PendingQuestion,
	}
}
