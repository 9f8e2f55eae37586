package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/internal/session"
	"github.com/dshills/tailorgraph/internal/tailor"
)

// Session statuses reported to clients.
const (
	StatusAwaitingFeedback = "awaiting_feedback"
	StatusCompleted        = "completed"
	StatusInProgress       = "in_progress"
)

type createRequest struct {
	Resume         string `json:"resume" validate:"required"`
	JobDescription string `json:"job_description" validate:"required_without=JobURL"`
	JobURL         string `json:"job_url" validate:"omitempty,url"`
	Request        string `json:"request" validate:"max=4000"`
}

type feedbackRequest struct {
	Answer       tailor.Choice `json:"answer" validate:"required"`
	ModifiedText string        `json:"modified_text"`
}

type sessionResponse struct {
	SessionID       string          `json:"session_id"`
	Status          string          `json:"status"`
	WaitingForHuman bool            `json:"waiting_for_human"`
	PendingQuestion string          `json:"pending_question,omitempty"`
	PendingOptions  []tailor.Choice `json:"pending_options,omitempty"`
	Output          string          `json:"output,omitempty"`
	State           tailor.State    `json:"state"`
}

func newSessionResponse(id string, s tailor.State) sessionResponse {
	status := StatusInProgress
	switch {
	case s.Done():
		status = StatusCompleted
	case s.WaitingForHuman:
		status = StatusAwaitingFeedback
	}
	return sessionResponse{
		SessionID:       id,
		Status:          status,
		WaitingForHuman: s.WaitingForHuman,
		PendingQuestion: s.PendingQuestion,
		PendingOptions:  s.PendingOptions,
		Output:          s.RenderedOutput,
		State:           s,
	}
}

// handleCreate accepts either a JSON body or a multipart form with a PDF
// resume in resume_file.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	req, err := s.decodeCreate(r)
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, "", err)
		return
	}
	if req.JobDescription == "" {
		text, err := s.fetcher.Fetch(r.Context(), req.JobURL)
		if err != nil {
			s.writeError(w, r, "", err)
			return
		}
		req.JobDescription = text
	}

	id, state, err := s.sessions.Create(runContext(r), session.NewSession{
		Resume:         req.Resume,
		JobDescription: req.JobDescription,
		Request:        req.Request,
	})
	if err != nil {
		s.writeError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(id, state))
}

func (s *Server) decodeCreate(r *http.Request) (createRequest, error) {
	var req createRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				return req, err
			}
			return req, &badRequest{msg: "malformed JSON body", err: err}
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return req, err
		}
		return req, &badRequest{msg: "malformed multipart form", err: err}
	}
	req.Resume = r.FormValue("resume")
	req.JobDescription = r.FormValue("job_description")
	req.JobURL = r.FormValue("job_url")
	req.Request = r.FormValue("request")

	file, header, err := r.FormFile("resume_file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return req, &badRequest{msg: "unreadable resume_file", err: err}
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		return req, &badRequest{msg: "only PDF files are accepted"}
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return req, &badRequest{msg: "unreadable resume_file", err: err}
	}
	text, err := s.extract(data)
	if err != nil {
		return req, err
	}
	req.Resume = text
	return req, nil
}

// runContext detaches a workflow run from the request so a client that
// disconnects mid-step does not abort the step. The session still saves
// the result for the next Get.
func runContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, id, &badRequest{msg: "malformed JSON body", err: err})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, id, err)
		return
	}

	state, err := s.sessions.Feedback(runContext(r), id, tailor.Answer{Choice: req.Answer, ModifiedText: req.ModifiedText})
	if err != nil {
		s.writeError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(id, state))
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.sessions.Continue(runContext(r), id)
	if err != nil {
		s.writeError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(id, state))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(id, state))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
