package tailor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotWaiting is returned by Resume when the state is not suspended.
	ErrNotWaiting = errors.New("workflow is not waiting for input")

	// ErrInvalidAnswer is returned by Resume for answers outside the
	// offered options or missing required text.
	ErrInvalidAnswer = errors.New("invalid answer")
)

// Resume records a human answer on a suspended state and clears the
// suspension so the next Run continues after the verification step.
func Resume(s State, answer Answer) (State, error) {
	if !s.WaitingForHuman {
		return s, ErrNotWaiting
	}

	offered := false
	for _, opt := range s.PendingOptions {
		if opt == answer.Choice {
			offered = true
			break
		}
	}
	if !offered {
		return s, fmt.Errorf("%w: %q is not one of %v", ErrInvalidAnswer, answer.Choice, s.PendingOptions)
	}

	answer.ModifiedText = strings.TrimSpace(answer.ModifiedText)
	switch answer.Choice {
	case ChoiceYesModify:
		if answer.ModifiedText == "" {
			return s, fmt.Errorf("%w: %q requires modified text", ErrInvalidAnswer, ChoiceYesModify)
		}
	default:
		answer.ModifiedText = ""
	}

	s.HumanFeedback = &answer
	s.WaitingForHuman = false
	s.PendingQuestion = ""
	s.PendingOptions = nil
	return s, nil
}
