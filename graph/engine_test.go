package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/tailorgraph/graph/emit"
	"github.com/dshills/tailorgraph/graph/store"
)

func stopNode(_ context.Context, s TestState) NodeResult[TestState] {
	return NodeResult[TestState]{Delta: s, Route: Stop()}
}

// visit returns a node that records its ID in the state's path.
func visit(id string) Node[TestState] {
	return NodeFunc[TestState](func(_ context.Context, s TestState) NodeResult[TestState] {
		s.Path = append(s.Path, id)
		s.Counter++
		return NodeResult[TestState]{Delta: s}
	})
}

func getCursor(s TestState) string { return s.Cursor }

func setCursor(s TestState, c string) TestState {
	s.Cursor = c
	return s
}

type testEngine struct {
	*Engine[TestState]
	store   *store.MemStore[TestState]
	emitter *emit.BufferedEmitter
	metrics *PrometheusMetrics
}

func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()
	st := store.NewMemStore[TestState]()
	emitter := emit.NewBufferedEmitter()
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	opts = append([]Option{WithMetrics(metrics)}, opts...)

	engine := New(Replace[TestState], st, emitter, opts...)
	if err := engine.TrackCursor(getCursor, setCursor); err != nil {
		t.Fatalf("TrackCursor: %v", err)
	}
	return &testEngine{Engine: engine, store: st, emitter: emitter, metrics: metrics}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngine_LinearRun(t *testing.T) {
	e := newTestEngine(t)
	must(t, e.Add("a", visit("a")))
	must(t, e.Add("b", visit("b")))
	must(t, e.Add("c", NodeFunc[TestState](func(_ context.Context, s TestState) NodeResult[TestState] {
		s.Path = append(s.Path, "c")
		return NodeResult[TestState]{Delta: s, Route: Stop()}
	})))
	must(t, e.StartAt("a"))
	must(t, e.Connect("a", "b", nil))
	must(t, e.Connect("b", "c", nil))

	final, err := e.Run(context.Background(), "run-1", TestState{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := final.Path; len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("path = %v, want [a b c]", got)
	}
	if final.Cursor != End {
		t.Errorf("cursor = %q, want %q", final.Cursor, End)
	}

	saved, step, err := e.store.LoadLatest(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if step != 3 || saved.Cursor != End {
		t.Errorf("saved step=%d cursor=%q", step, saved.Cursor)
	}

	if path := e.emitter.NodePath("run-1"); len(path) != 3 {
		t.Errorf("emitted path = %v", path)
	}
	if got := testutil.ToFloat64(e.metrics.runs.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed runs = %v", got)
	}
}

func TestEngine_EdgePredicates(t *testing.T) {
	e := newTestEngine(t)
	must(t, e.Add("start", visit("start")))
	must(t, e.Add("high", NodeFunc[TestState](stopNode)))
	must(t, e.Add("low", NodeFunc[TestState](stopNode)))
	must(t, e.StartAt("start"))
	must(t, e.Connect("start", "high", func(s TestState) bool { return s.Value == "high" }))
	must(t, e.Connect("start", "low", nil))

	_, err := e.Run(context.Background(), "high-run", TestState{Value: "high"})
	must(t, err)
	_, err = e.Run(context.Background(), "low-run", TestState{Value: "other"})
	must(t, err)

	if path := e.emitter.NodePath("high-run"); path[len(path)-1] != "high" {
		t.Errorf("high-run path = %v", path)
	}
	if path := e.emitter.NodePath("low-run"); path[len(path)-1] != "low" {
		t.Errorf("low-run path = %v", path)
	}
}

type lane int

const (
	laneLeft lane = iota
	laneRight
	laneNowhere
)

func TestEngine_Branch(t *testing.T) {
	build := func(t *testing.T) *testEngine {
		e := newTestEngine(t)
		must(t, e.Add("router", visit("router")))
		must(t, e.Add("left", NodeFunc[TestState](stopNode)))
		must(t, e.Add("right", NodeFunc[TestState](stopNode)))
		must(t, e.StartAt("router"))
		must(t, Branch(e.Engine, "router", func(s TestState) lane {
			switch s.Value {
			case "left":
				return laneLeft
			case "right":
				return laneRight
			}
			return laneNowhere
		}, map[lane]string{laneLeft: "left", laneRight: "right"}))
		return e
	}

	t.Run("routes by label", func(t *testing.T) {
		e := build(t)
		_, err := e.Run(context.Background(), "run", TestState{Value: "right"})
		must(t, err)

		path := e.emitter.NodePath("run")
		if len(path) != 2 || path[1] != "right" {
			t.Errorf("path = %v", path)
		}
	})

	t.Run("unmapped label is a routing error", func(t *testing.T) {
		e := build(t)
		_, err := e.Run(context.Background(), "run", TestState{Value: "up"})

		var routingErr *RoutingError
		if !errors.As(err, &routingErr) {
			t.Fatalf("expected RoutingError, got %v", err)
		}
		if routingErr.From != "router" || routingErr.Label != "2" {
			t.Errorf("routing error = %+v", routingErr)
		}
		if got := testutil.ToFloat64(e.metrics.routingErrors.WithLabelValues("router")); got != 1 {
			t.Errorf("routing error metric = %v", got)
		}
	})

	t.Run("branch overrides edges", func(t *testing.T) {
		e := build(t)
		must(t, e.Connect("router", "right", nil))
		_, err := e.Run(context.Background(), "run", TestState{Value: "left"})
		must(t, err)

		if path := e.emitter.NodePath("run"); path[1] != "left" {
			t.Errorf("path = %v", path)
		}
	})

	t.Run("End target terminates", func(t *testing.T) {
		e := newTestEngine(t)
		must(t, e.Add("only", visit("only")))
		must(t, e.StartAt("only"))
		must(t, Branch(e.Engine, "only", func(TestState) bool { return true }, map[bool]string{true: End}))

		final, err := e.Run(context.Background(), "run", TestState{})
		must(t, err)
		if final.Cursor != End {
			t.Errorf("cursor = %q", final.Cursor)
		}
	})
}

func TestBranch_Registration(t *testing.T) {
	e := newTestEngine(t)
	router := func(TestState) bool { return true }

	if err := Branch(e.Engine, "", router, map[bool]string{true: "a"}); err == nil {
		t.Error("expected error for empty source")
	}
	if err := Branch[TestState, bool](e.Engine, "a", nil, map[bool]string{true: "a"}); err == nil {
		t.Error("expected error for nil router")
	}
	if err := Branch(e.Engine, "a", router, map[bool]string{}); err == nil {
		t.Error("expected error for empty targets")
	}
	if err := Branch(e.Engine, "a", router, map[bool]string{true: ""}); err == nil {
		t.Error("expected error for empty target")
	}

	must(t, Branch(e.Engine, "a", router, map[bool]string{true: "b"}))
	err := Branch(e.Engine, "a", router, map[bool]string{true: "c"})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != "DUPLICATE_BRANCH" {
		t.Errorf("expected DUPLICATE_BRANCH, got %v", err)
	}
}

// buildInterruptGraph: ask -(interrupt while Waiting)-> answer -> done
func buildInterruptGraph(t *testing.T, e *testEngine) *atomic.Int32 {
	t.Helper()
	asked := &atomic.Int32{}
	must(t, e.Add("ask", NodeFunc[TestState](func(_ context.Context, s TestState) NodeResult[TestState] {
		asked.Add(1)
		s.Path = append(s.Path, "ask")
		s.Waiting = true
		return NodeResult[TestState]{Delta: s}
	})))
	must(t, e.Add("answer", visit("answer")))
	must(t, e.Add("done", NodeFunc[TestState](stopNode)))
	must(t, e.StartAt("ask"))
	must(t, e.Interrupt("ask", func(s TestState) bool { return s.Waiting }))
	must(t, e.Connect("ask", "answer", nil))
	must(t, e.Connect("answer", "done", nil))
	return asked
}

func TestEngine_InterruptAndResume(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	asked := buildInterruptGraph(t, e)

	suspended, err := e.Run(ctx, "run", TestState{})
	if !errors.Is(err, ErrSuspended) {
		t.Fatalf("expected ErrSuspended, got %v", err)
	}
	if suspended.Cursor != "ask" || !suspended.Waiting {
		t.Errorf("suspended state = %+v", suspended)
	}

	saved, step, err := e.store.LoadLatest(ctx, "run")
	must(t, err)
	if step != 1 || saved.Cursor != "ask" {
		t.Errorf("saved step=%d cursor=%q", step, saved.Cursor)
	}

	t.Run("resume while still waiting stays suspended", func(t *testing.T) {
		_, err := e.Run(ctx, "run", saved)
		if !errors.Is(err, ErrSuspended) {
			t.Fatalf("expected ErrSuspended, got %v", err)
		}
		if asked.Load() != 1 {
			t.Errorf("ask ran %d times, want 1", asked.Load())
		}
	})

	t.Run("resume after input continues past the interrupt", func(t *testing.T) {
		saved.Waiting = false
		final, err := e.Run(ctx, "run", saved)
		must(t, err)

		if final.Cursor != End {
			t.Errorf("cursor = %q", final.Cursor)
		}
		if asked.Load() != 1 {
			t.Errorf("ask re-ran on resume")
		}
		if len(final.Path) != 2 || final.Path[1] != "answer" {
			t.Errorf("path = %v", final.Path)
		}

		_, step, err := e.store.LoadLatest(ctx, "run")
		must(t, err)
		if step != 3 {
			t.Errorf("step numbering did not continue: latest step = %d, want 3", step)
		}
	})

	t.Run("finished run is a no-op", func(t *testing.T) {
		final, _, err := e.store.LoadLatest(ctx, "run")
		must(t, err)

		again, err := e.Run(ctx, "run", final)
		must(t, err)
		if again.Cursor != End || len(again.Path) != len(final.Path) {
			t.Errorf("finished run changed: %+v", again)
		}
	})

	if got := testutil.ToFloat64(e.metrics.suspensions.WithLabelValues("ask")); got != 1 {
		t.Errorf("suspensions = %v, want 1", got)
	}
	if n := len(e.emitter.GetHistoryWithFilter("run", emit.HistoryFilter{Msg: "run suspended"})); n != 1 {
		t.Errorf("run suspended events = %d", n)
	}
}

func TestEngine_UnknownCursor(t *testing.T) {
	e := newTestEngine(t)
	must(t, e.Add("a", NodeFunc[TestState](stopNode)))
	must(t, e.StartAt("a"))

	_, err := e.Run(context.Background(), "run", TestState{Cursor: "vanished"})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != "UNKNOWN_CURSOR" {
		t.Errorf("expected UNKNOWN_CURSOR, got %v", err)
	}
}

func TestEngine_WithoutCursorStartsFromTheTop(t *testing.T) {
	engine := New(Replace[TestState], store.NewMemStore[TestState](), nil)
	must(t, engine.Add("a", visit("a")))
	must(t, engine.Add("b", NodeFunc[TestState](stopNode)))
	must(t, engine.StartAt("a"))
	must(t, engine.Connect("a", "b", nil))

	final, err := engine.Run(context.Background(), "run", TestState{Cursor: "b"})
	must(t, err)
	if len(final.Path) != 1 || final.Path[0] != "a" {
		t.Errorf("path = %v", final.Path)
	}
	if final.Cursor != "b" {
		t.Errorf("untracked cursor field was modified: %q", final.Cursor)
	}
}

func TestEngine_MaxSteps(t *testing.T) {
	e := newTestEngine(t, WithMaxSteps(5))
	must(t, e.Add("loop", visit("loop")))
	must(t, e.StartAt("loop"))
	must(t, e.Connect("loop", "loop", nil))

	last, err := e.Run(context.Background(), "run", TestState{})
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("expected ErrMaxStepsExceeded, got %v", err)
	}
	if last.Counter != 5 {
		t.Errorf("returned state counter = %d, want last committed 5", last.Counter)
	}
}

func TestEngine_NodeError(t *testing.T) {
	cause := errors.New("oracle down")
	e := newTestEngine(t)
	must(t, e.Add("ok", visit("ok")))
	must(t, e.Add("broken", NodeFunc[TestState](func(_ context.Context, s TestState) NodeResult[TestState] {
		s.Value = "partial"
		return NodeResult[TestState]{Delta: s, Err: cause}
	})))
	must(t, e.StartAt("ok"))
	must(t, e.Connect("ok", "broken", nil))

	last, err := e.Run(context.Background(), "run", TestState{})

	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != "broken" {
		t.Fatalf("expected NodeError from broken, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to wrap cause")
	}
	if last.Value == "partial" {
		t.Error("failed node output leaked into returned state")
	}
	if last.Cursor != "ok" {
		t.Errorf("cursor = %q, want last committed node", last.Cursor)
	}
	if got := testutil.ToFloat64(e.metrics.runs.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
}

func TestEngine_NoRoute(t *testing.T) {
	e := newTestEngine(t)
	must(t, e.Add("dead-end", visit("dead-end")))
	must(t, e.StartAt("dead-end"))

	_, err := e.Run(context.Background(), "run", TestState{})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != "NO_ROUTE" {
		t.Errorf("expected NO_ROUTE, got %v", err)
	}
}

func TestEngine_Retry(t *testing.T) {
	transient := errors.New("rate limited")
	calls := 0

	e := newTestEngine(t)
	must(t, e.Add("flaky", NodeFunc[TestState](func(_ context.Context, s TestState) NodeResult[TestState] {
		calls++
		if calls < 3 {
			return NodeResult[TestState]{Err: transient}
		}
		return NodeResult[TestState]{Delta: s, Route: Stop()}
	})))
	must(t, e.StartAt("flaky"))
	must(t, e.SetPolicy("flaky", NodePolicy{RetryPolicy: &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, transient) },
	}}))

	_, err := e.Run(context.Background(), "run", TestState{})
	must(t, err)

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := testutil.ToFloat64(e.metrics.retries.WithLabelValues("flaky")); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
	if n := len(e.emitter.GetHistoryWithFilter("run", emit.HistoryFilter{Msg: "node retry"})); n != 2 {
		t.Errorf("retry events = %d, want 2", n)
	}
}

func TestEngine_RetryExhausted(t *testing.T) {
	transient := errors.New("rate limited")
	calls := 0

	e := newTestEngine(t)
	must(t, e.Add("flaky", NodeFunc[TestState](func(context.Context, TestState) NodeResult[TestState] {
		calls++
		return NodeResult[TestState]{Err: transient}
	})))
	must(t, e.StartAt("flaky"))
	must(t, e.SetPolicy("flaky", NodePolicy{RetryPolicy: &RetryPolicy{
		MaxAttempts: 2,
		Retryable:   func(error) bool { return true },
	}}))

	_, err := e.Run(context.Background(), "run", TestState{})
	if !errors.Is(err, transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestEngine_Timeout(t *testing.T) {
	e := newTestEngine(t, WithDefaultNodeTimeout(20*time.Millisecond))
	must(t, e.Add("slow", NodeFunc[TestState](func(ctx context.Context, s TestState) NodeResult[TestState] {
		<-ctx.Done()
		return NodeResult[TestState]{Err: ctx.Err()}
	})))
	must(t, e.StartAt("slow"))

	_, err := e.Run(context.Background(), "run", TestState{})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != "NODE_TIMEOUT" {
		t.Fatalf("expected NODE_TIMEOUT, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected timeout to wrap context.DeadlineExceeded")
	}
}

func TestEngine_UnboundedPolicy(t *testing.T) {
	e := newTestEngine(t, WithDefaultNodeTimeout(20*time.Millisecond))
	must(t, e.Add("fanout", NodeFunc[TestState](func(ctx context.Context, s TestState) NodeResult[TestState] {
		if _, ok := ctx.Deadline(); ok {
			return NodeResult[TestState]{Err: errors.New("unexpected deadline")}
		}
		select {
		case <-ctx.Done():
			return NodeResult[TestState]{Err: ctx.Err()}
		case <-time.After(60 * time.Millisecond):
		}
		s.Path = append(s.Path, "fanout")
		return NodeResult[TestState]{Delta: s, Route: Stop()}
	})))
	must(t, e.SetPolicy("fanout", NodePolicy{Unbounded: true}))
	must(t, e.StartAt("fanout"))

	final, err := e.Run(context.Background(), "run", TestState{})
	must(t, err)
	if len(final.Path) != 1 || final.Path[0] != "fanout" {
		t.Errorf("final path = %v", final.Path)
	}
}

func TestEngine_ContextCancelled(t *testing.T) {
	e := newTestEngine(t)
	must(t, e.Add("a", NodeFunc[TestState](stopNode)))
	must(t, e.StartAt("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Run(ctx, "run", TestState{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEngine_NodesReceiveOwnCopy(t *testing.T) {
	e := newTestEngine(t)
	must(t, e.Add("mutator", NodeFunc[TestState](func(_ context.Context, s TestState) NodeResult[TestState] {
		s.Path[0] = "mutated"
		return NodeResult[TestState]{Delta: s, Route: Stop()}
	})))
	must(t, e.StartAt("mutator"))

	initial := TestState{Path: []string{"original"}}
	final, err := e.Run(context.Background(), "run", initial)
	must(t, err)

	if initial.Path[0] != "original" {
		t.Error("node mutation leaked into caller's state")
	}
	if final.Path[0] != "mutated" {
		t.Errorf("final path = %v", final.Path)
	}
}

type validatedState struct {
	Count  int
	Cursor string
}

func (v validatedState) Validate() error {
	if v.Count > 1 {
		return errors.New("count above one")
	}
	return nil
}

func TestEngine_StateValidation(t *testing.T) {
	engine := New(Replace[validatedState], store.NewMemStore[validatedState](), nil)
	must(t, engine.Add("inc", NodeFunc[validatedState](func(_ context.Context, s validatedState) NodeResult[validatedState] {
		s.Count++
		return NodeResult[validatedState]{Delta: s}
	})))
	must(t, engine.StartAt("inc"))
	must(t, engine.Connect("inc", "inc", nil))

	last, err := engine.Run(context.Background(), "run", validatedState{})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
	if last.Count != 1 {
		t.Errorf("last committed count = %d, want 1", last.Count)
	}
}

func TestEngine_Registration(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name string
		err  error
		code string
	}{
		{"empty node ID", e.Add("", visit("x")), ""},
		{"reserved node ID", e.Add(End, visit("x")), "RESERVED_NODE_ID"},
		{"nil node", e.Add("nil", nil), ""},
		{"start at unknown node", e.StartAt("ghost"), "NODE_NOT_FOUND"},
		{"empty edge source", e.Connect("", "b", nil), ""},
		{"nil interrupt predicate", e.Interrupt("a", nil), ""},
		{"invalid retry policy", e.SetPolicy("a", NodePolicy{RetryPolicy: &RetryPolicy{}}), "INVALID_POLICY"},
		{"nil cursor accessors", e.TrackCursor(nil, nil), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var engineErr *EngineError
			if !errors.As(tt.err, &engineErr) {
				t.Fatalf("expected EngineError, got %v", tt.err)
			}
			if tt.code != "" && engineErr.Code != tt.code {
				t.Errorf("code = %q, want %q", engineErr.Code, tt.code)
			}
		})
	}

	t.Run("duplicates", func(t *testing.T) {
		must(t, e.Add("a", visit("a")))
		var engineErr *EngineError
		if err := e.Add("a", visit("a")); !errors.As(err, &engineErr) || engineErr.Code != "DUPLICATE_NODE" {
			t.Errorf("expected DUPLICATE_NODE, got %v", err)
		}
		must(t, e.Interrupt("a", func(TestState) bool { return true }))
		if err := e.Interrupt("a", func(TestState) bool { return true }); !errors.As(err, &engineErr) || engineErr.Code != "DUPLICATE_INTERRUPT" {
			t.Errorf("expected DUPLICATE_INTERRUPT, got %v", err)
		}
	})
}

func TestEngine_RunValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		engine *Engine[TestState]
		code   string
	}{
		{"missing reducer", New[TestState](nil, store.NewMemStore[TestState](), nil), "MISSING_REDUCER"},
		{"missing store", New[TestState](Replace[TestState], nil, nil), "MISSING_STORE"},
		{"missing start", New(Replace[TestState], store.NewMemStore[TestState](), nil), "NO_START_NODE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.engine.Run(ctx, "run", TestState{})
			var engineErr *EngineError
			if !errors.As(err, &engineErr) || engineErr.Code != tt.code {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}
