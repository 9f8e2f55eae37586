package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph/store"
	"github.com/dshills/tailorgraph/internal/tailor"
)

// Runner advances a session's workflow. *tailor.Workflow satisfies it.
type Runner interface {
	Run(ctx context.Context, sessionID string, s tailor.State) (tailor.State, error)
}

// Defaults for Manager options.
const (
	DefaultTTL           = 24 * time.Hour
	DefaultSweepSchedule = "@every 10m"
)

// Manager owns session lifecycles.
type Manager struct {
	runner   Runner
	store    store.Store[tailor.State]
	locker   chain
	ttl      time.Duration
	schedule string
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker adds a lock acquired after the in-process one, typically a
// RedisLocker shared by every replica.
func WithLocker(l Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.locker = append(m.locker, l)
		}
	}
}

// WithTTL sets how long an idle session is kept.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithSweepSchedule sets the cron spec for expiry sweeps.
func WithSweepSchedule(spec string) Option {
	return func(m *Manager) {
		if spec != "" {
			m.schedule = spec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager returns a Manager. st must be the store the runner saves to.
func NewManager(runner Runner, st store.Store[tailor.State], opts ...Option) *Manager {
	m := &Manager{
		runner:   runner,
		store:    st,
		locker:   chain{NewLocalLocker()},
		ttl:      DefaultTTL,
		schedule: DefaultSweepSchedule,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "session"))
	return m
}

// Create starts a session and runs it until it suspends or completes.
//
// The returned id is valid whenever the session was stored, including when
// the run itself failed; the returned state is then the last one saved.
func (m *Manager) Create(ctx context.Context, in NewSession) (string, tailor.State, error) {
	if strings.TrimSpace(in.Resume) == "" {
		return "", tailor.State{}, tailor.ErrEmptyResume
	}

	id := uuid.NewString()
	release, err := m.locker.Acquire(ctx, id)
	if err != nil {
		return "", tailor.State{}, err
	}
	defer release()

	s := tailor.NewState(in.Resume, in.JobDescription, in.Request)
	if err := m.store.SaveStep(ctx, id, 0, "", s); err != nil {
		return "", s, fmt.Errorf("save new session: %w", err)
	}
	m.logger.Info("session created", zap.String("session_id", id))

	out, err := m.runner.Run(ctx, id, s)
	return id, out, err
}

// Feedback answers the pending question of a suspended session and runs it
// until the next suspension or completion.
func (m *Manager) Feedback(ctx context.Context, id string, answer tailor.Answer) (tailor.State, error) {
	release, err := m.locker.Acquire(ctx, id)
	if err != nil {
		return tailor.State{}, err
	}
	defer release()

	s, err := m.load(ctx, id)
	if err != nil {
		return s, err
	}
	resumed, err := tailor.Resume(s, answer)
	if err != nil {
		return s, err
	}
	m.logger.Info("feedback received",
		zap.String("session_id", id),
		zap.String("answer", string(answer.Choice)),
	)
	return m.runner.Run(ctx, id, resumed)
}

// Continue reruns a session from its last saved state. It recovers
// sessions whose previous run failed; suspended and completed sessions are
// returned unchanged.
func (m *Manager) Continue(ctx context.Context, id string) (tailor.State, error) {
	release, err := m.locker.Acquire(ctx, id)
	if err != nil {
		return tailor.State{}, err
	}
	defer release()

	s, err := m.load(ctx, id)
	if err != nil {
		return s, err
	}
	if s.WaitingForHuman || s.Done() {
		return s, nil
	}
	return m.runner.Run(ctx, id, s)
}

// Get returns the latest state of a session.
func (m *Manager) Get(ctx context.Context, id string) (tailor.State, error) {
	return m.load(ctx, id)
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	release, err := m.locker.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if _, err := m.load(ctx, id); err != nil {
		return err
	}
	return m.store.Delete(ctx, id)
}

// Evict removes sessions idle for longer than the TTL.
func (m *Manager) Evict(ctx context.Context) (int, error) {
	n, err := m.store.DeleteBefore(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return n, fmt.Errorf("evict sessions: %w", err)
	}
	if n > 0 {
		m.logger.Info("sessions evicted", zap.Int("count", n))
	}
	return n, nil
}

// Start schedules expiry sweeps. ctx bounds each sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return errors.New("session sweeper already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(m.schedule, func() {
		if _, err := m.Evict(ctx); err != nil {
			m.logger.Error("expiry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", m.schedule, err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("session sweeper started",
		zap.String("schedule", m.schedule),
		zap.Duration("ttl", m.ttl),
	)
	return nil
}

// Stop cancels future sweeps and waits for a running one to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (m *Manager) load(ctx context.Context, id string) (tailor.State, error) {
	s, _, err := m.store.LoadLatest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return s, &NotFoundError{ID: id}
	}
	if err != nil {
		return s, fmt.Errorf("load session %s: %w", id, err)
	}
	return s, nil
}
