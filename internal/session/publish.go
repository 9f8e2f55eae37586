package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph/store"
	"github.com/dshills/tailorgraph/internal/tailor"
)

// Publisher receives session updates.
type Publisher interface {
	Publish(Update)
}

// Broker fans updates out to per-session subscribers. Slow subscribers
// drop updates rather than block the workflow.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[chan Update]struct{}
	buffer int
	logger *zap.Logger
}

// NewBroker returns a Broker whose subscriber channels hold buffer updates.
func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:   make(map[string]map[chan Update]struct{}),
		buffer: buffer,
		logger: logger.With(zap.String("component", "broker")),
	}
}

// Subscribe returns a channel of updates for one session and a function
// that ends the subscription and closes the channel.
func (b *Broker) Subscribe(sessionID string) (<-chan Update, func()) {
	ch := make(chan Update, b.buffer)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan Update]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], ch)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish implements Publisher.
func (b *Broker) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[u.SessionID] {
		select {
		case ch <- u:
		default:
			b.logger.Warn("dropping update for slow subscriber", zap.String("session_id", u.SessionID))
		}
	}
}

// Subscribers reports the number of live subscriptions for a session.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// publishingStore publishes every saved state.
type publishingStore struct {
	store.Store[tailor.State]
	pub Publisher
}

// Publishing wraps st so that every SaveStep is also published. Hand the
// result to the workflow so each completed step reaches subscribers.
func Publishing(st store.Store[tailor.State], pub Publisher) store.Store[tailor.State] {
	if pub == nil {
		return st
	}
	return &publishingStore{Store: st, pub: pub}
}

func (p *publishingStore) SaveStep(ctx context.Context, runID string, step int, nodeID string, state tailor.State) error {
	if err := p.Store.SaveStep(ctx, runID, step, nodeID, state); err != nil {
		return err
	}
	p.pub.Publish(newUpdate(runID, state))
	return nil
}
