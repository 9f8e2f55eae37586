package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/tailorgraph/internal/ingest"
	"github.com/dshills/tailorgraph/internal/oracle"
	"github.com/dshills/tailorgraph/internal/session"
	"github.com/dshills/tailorgraph/internal/tailor"
)

// fakeSessions records calls and returns canned results.
type fakeSessions struct {
	mu       sync.Mutex
	created  []session.NewSession
	answers  []tailor.Answer
	state    tailor.State
	err      error
	createID string

	// When hold is set, runs signal started and block until hold closes or
	// their context ends, then record the context error in runErrs.
	hold    chan struct{}
	started chan struct{}
	runErrs []error
}

func (f *fakeSessions) block(ctx context.Context) {
	f.mu.Lock()
	hold, started := f.hold, f.started
	f.mu.Unlock()
	if hold == nil {
		return
	}

	started <- struct{}{}
	select {
	case <-ctx.Done():
	case <-hold:
	}

	f.mu.Lock()
	f.runErrs = append(f.runErrs, ctx.Err())
	f.mu.Unlock()
}

func (f *fakeSessions) recordedRunErrs() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.runErrs...)
}

func (f *fakeSessions) Create(ctx context.Context, in session.NewSession) (string, tailor.State, error) {
	f.block(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return f.createID, f.state, f.err
}

func (f *fakeSessions) Feedback(ctx context.Context, _ string, a tailor.Answer) (tailor.State, error) {
	f.block(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, a)
	return f.state, f.err
}

func (f *fakeSessions) Continue(ctx context.Context, _ string) (tailor.State, error) {
	f.block(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func (f *fakeSessions) Get(_ context.Context, id string) (tailor.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "missing" {
		return tailor.State{}, &session.NotFoundError{ID: id}
	}
	return f.state, f.err
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "missing" {
		return &session.NotFoundError{ID: id}
	}
	return f.err
}

func (f *fakeSessions) set(state tailor.State, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state, f.err = state, err
}

func (f *fakeSessions) lastCreated() session.NewSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

type fakeFetcher struct {
	mu   sync.Mutex
	text string
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return f.text, f.err
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func waiting() tailor.State {
	return tailor.State{
		Resume:          "resume",
		Cursor:          tailor.StepRequestVerification,
		WaitingForHuman: true,
		PendingQuestion: "Should we make this change to the resume?",
		PendingOptions:  tailor.VerificationOptions,
	}
}

type testServer struct {
	*httptest.Server
	sessions *fakeSessions
	fetcher  *fakeFetcher
	broker   *session.Broker
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	ts := &testServer{
		sessions: &fakeSessions{state: waiting(), createID: "s1"},
		fetcher:  &fakeFetcher{text: "Fetched job"},
		broker:   session.NewBroker(8, zaptest.NewLogger(t)),
		registry: prometheus.NewRegistry(),
	}
	srv := New(ts.sessions, ts.broker, cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithJobFetcher(ts.fetcher),
		WithMetrics(ts.registry, ts.registry),
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts.Server = httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return out
}

func TestCreate_JSON(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, body := ts.postJSON(t, "/sessions", map[string]string{
		"resume":          "Jane Doe",
		"job_description": "Go engineer",
		"request":         "Tailor it",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, StatusAwaitingFeedback, body["status"])
	assert.Equal(t, true, body["waiting_for_human"])
	assert.Equal(t, []any{"Yes", "No", "Yes with modifications"}, body["pending_options"])

	assert.Equal(t, session.NewSession{Resume: "Jane Doe", JobDescription: "Go engineer", Request: "Tailor it"}, ts.sessions.lastCreated())
	assert.Empty(t, ts.fetcher.fetched())
}

func TestCreate_FetchesJobURL(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, _ := ts.postJSON(t, "/sessions", map[string]string{
		"resume":  "Jane Doe",
		"job_url": "https://jobs.example.com/123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"https://jobs.example.com/123"}, ts.fetcher.fetched())
	assert.Equal(t, "Fetched job", ts.sessions.lastCreated().JobDescription)

	ts.fetcher.fail(&ingest.FetchError{URL: "https://jobs.example.com/404", Reason: "HTTP status 404"})
	resp, body := ts.postJSON(t, "/sessions", map[string]string{
		"resume":  "Jane Doe",
		"job_url": "https://jobs.example.com/404",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["error"], "HTTP status 404")
}

func TestCreate_Validation(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := map[string]map[string]string{
		"missing resume":   {"job_description": "Go"},
		"missing job":      {"resume": "Jane"},
		"bad url":          {"resume": "Jane", "job_url": "not a url"},
		"request too long": {"resume": "Jane", "job_description": "Go", "request": strings.Repeat("x", 4001)},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			resp, out := ts.postJSON(t, "/sessions", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "invalid request", out["error"])
			assert.NotEmpty(t, out["details"])
		})
	}

	resp, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	ts.sessions.mu.Lock()
	assert.Empty(t, ts.sessions.created)
	ts.sessions.mu.Unlock()
}

func multipartBody(t *testing.T, fields map[string]string, filename string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("resume_file", filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreate_Multipart(t *testing.T) {
	ts := newTestServer(t, Config{})
	var extracted []byte
	srv := New(ts.sessions, ts.broker, Config{}, WithJobFetcher(ts.fetcher))
	srv.extract = func(data []byte) (string, error) {
		extracted = data
		if bytes.Equal(data, []byte("broken")) {
			return "", &ingest.IngestionError{Reason: "unreadable PDF"}
		}
		return "Extracted resume", nil
	}
	h := srv.Handler(context.Background())

	body, _ := multipartBody(t, map[string]string{"job_description": "Go engineer"}, "cv.PDF", []byte("%PDF-1.4"))
	rec := httptest.NewRecorder()
	// Without the multipart content type the body is parsed as JSON.
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct := multipartBody(t, map[string]string{"job_description": "Go engineer"}, "cv.PDF", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/sessions", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []byte("%PDF-1.4"), extracted)
	assert.Equal(t, "Extracted resume", ts.sessions.lastCreated().Resume)

	body, ct = multipartBody(t, map[string]string{"job_description": "Go"}, "cv.docx", []byte("doc"))
	req = httptest.NewRequest(http.MethodPost, "/sessions", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, map[string]string{"job_description": "Go"}, "cv.pdf", []byte("broken"))
	req = httptest.NewRequest(http.MethodPost, "/sessions", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body, ct = multipartBody(t, map[string]string{"resume": "Plain text resume", "job_description": "Go"}, "", nil)
	req = httptest.NewRequest(http.MethodPost, "/sessions", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Plain text resume", ts.sessions.lastCreated().Resume)
}

func TestCreate_TooLarge(t *testing.T) {
	ts := newTestServer(t, Config{MaxUploadBytes: 64})

	resp, _ := ts.postJSON(t, "/sessions", map[string]string{
		"resume":          strings.Repeat("x", 200),
		"job_description": "Go",
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestFeedback(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.sessions.set(tailor.State{Cursor: tailor.StepEnd, RenderedOutput: "# Resume Tailoring Summary"}, nil)

	resp, body := ts.postJSON(t, "/sessions/s1/feedback", map[string]string{
		"answer":        "Yes with modifications",
		"modified_text": "Built Go services",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StatusCompleted, body["status"])
	assert.Equal(t, "# Resume Tailoring Summary", body["output"])
	assert.Equal(t, []tailor.Answer{{Choice: tailor.ChoiceYesModify, ModifiedText: "Built Go services"}}, ts.sessions.answers)

	resp, _ = ts.postJSON(t, "/sessions/s1/feedback", map[string]string{"modified_text": "no answer"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&session.NotFoundError{ID: "x"}, http.StatusNotFound},
		{session.ErrSessionBusy, http.StatusConflict},
		{tailor.ErrNotWaiting, http.StatusConflict},
		{fmt.Errorf("resume: %w", tailor.ErrInvalidAnswer), http.StatusBadRequest},
		{tailor.ErrEmptyResume, http.StatusBadRequest},
		{&ingest.IngestionError{Reason: "empty file"}, http.StatusUnprocessableEntity},
		{&ingest.FetchError{URL: "u", Reason: "invalid URL"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("node: %w", &oracle.OracleError{Shape: "suggestion", Err: errors.New("bad reply")}), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/sessions/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	decode(t, resp)

	ts.sessions.set(waiting(), session.ErrSessionBusy)
	resp, body := ts.postJSON(t, "/sessions/s1/feedback", map[string]string{"answer": "Yes"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "s1", body["session_id"])

	ts.sessions.set(waiting(), &oracle.OracleError{Shape: "suggestion", Transient: true, Err: errors.New("rate limited")})
	resp, body = ts.postJSON(t, "/sessions", map[string]string{"resume": "Jane", "job_description": "Go"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "s1", body["session_id"], "failed runs still report the stored session")

	ts.sessions.set(waiting(), errors.New("secret internals"))
	resp, body = ts.postJSON(t, "/sessions/s1/continue", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", body["error"])
}

func TestGetAndDelete(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/sessions/s1")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Should we make this change to the resume?", body["pending_question"])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/s1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/sessions/missing", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, resp))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `tailorgraph_http_requests_total{code="200",route="GET /health"} 1`)

	srv := New(ts.sessions, ts.broker, Config{}, WithHealthCheck(func(context.Context) error {
		return errors.New("store unreachable")
	}))
	rec := httptest.NewRecorder()
	srv.Handler(context.Background()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpdates_WebSocket(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/s1/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	read := func() session.Update {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var u session.Update
		require.NoError(t, json.Unmarshal(data, &u))
		return u
	}

	first := read()
	assert.Equal(t, session.UpdateType, first.Type)
	assert.Equal(t, "s1", first.SessionID)
	assert.True(t, first.WaitingForHuman)

	require.Eventually(t, func() bool { return ts.broker.Subscribers("s1") == 1 }, time.Second, 10*time.Millisecond)
	ts.broker.Publish(session.Update{Type: session.UpdateType, SessionID: "s1", State: tailor.State{Cursor: tailor.StepEnd}})

	next := read()
	assert.True(t, next.State.Done())

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return ts.broker.Subscribers("s1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestUpdates_UnknownSession(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/sessions/missing/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunsSurviveClientDisconnect(t *testing.T) {
	tests := map[string]struct {
		path string
		body string
	}{
		"create":   {"/sessions", `{"resume": "Jane", "job_description": "Go"}`},
		"feedback": {"/sessions/s1/feedback", `{"answer": "Yes"}`},
		"continue": {"/sessions/s1/continue", ``},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, Config{})
			hold := make(chan struct{})
			ts.sessions.mu.Lock()
			ts.sessions.hold, ts.sessions.started = hold, make(chan struct{}, 1)
			ts.sessions.mu.Unlock()

			ctx, cancel := context.WithCancel(context.Background())
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")

			done := make(chan error, 1)
			go func() {
				resp, err := http.DefaultClient.Do(req)
				if err == nil {
					resp.Body.Close()
				}
				done <- err
			}()

			select {
			case <-ts.sessions.started:
			case <-time.After(5 * time.Second):
				t.Fatal("run never started")
			}
			cancel()
			require.Error(t, <-done)

			// Give the server time to notice the dropped connection.
			time.Sleep(50 * time.Millisecond)
			close(hold)

			require.Eventually(t, func() bool {
				return len(ts.sessions.recordedRunErrs()) == 1
			}, 5*time.Second, 10*time.Millisecond)
			assert.NoError(t, ts.sessions.recordedRunErrs()[0], "run context was cancelled with the request")
		})
	}
}
