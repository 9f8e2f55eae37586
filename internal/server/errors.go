package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/internal/ingest"
	"github.com/dshills/tailorgraph/internal/oracle"
	"github.com/dshills/tailorgraph/internal/session"
	"github.com/dshills/tailorgraph/internal/tailor"
)

// badRequest reports malformed client input.
type badRequest struct {
	msg string
	err error
}

func (e *badRequest) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *badRequest) Unwrap() error {
	return e.err
}

type errorBody struct {
	Error     string   `json:"error"`
	Details   []string `json:"details,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	var (
		notFound  *session.NotFoundError
		bad       *badRequest
		invalid   validator.ValidationErrors
		fetchErr  *ingest.FetchError
		ingestErr *ingest.IngestionError
		oracleErr *oracle.OracleError
		maxBytes  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionBusy), errors.Is(err, tailor.ErrNotWaiting):
		return http.StatusConflict
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &bad), errors.As(err, &invalid),
		errors.Is(err, tailor.ErrInvalidAnswer), errors.Is(err, tailor.ErrEmptyResume):
		return http.StatusBadRequest
	case errors.As(err, &fetchErr), errors.As(err, &ingestErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &oracleErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), SessionID: sessionID}

	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		body.Error = "invalid request"
		for _, fe := range invalid {
			body.Details = append(body.Details, fe.Field()+" failed "+fe.Tag())
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
