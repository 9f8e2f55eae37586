package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants exclusive execution of a session. Acquire never waits: it
// returns ErrSessionBusy when the session is held.
type Locker interface {
	Acquire(ctx context.Context, id string) (release func(), err error)
}

// LocalLocker guards sessions within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(_ context.Context, id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[id]; busy {
		return nil, ErrSessionBusy
	}
	l.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker guards sessions across processes with SET NX PX. While held,
// the lock is renewed every third of its ttl, so a long run keeps it and a
// crashed holder loses it after at most ttl.
type RedisLocker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisLocker returns a RedisLocker. ttl defaults to ten minutes.
func NewRedisLocker(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisLocker) key(id string) string {
	return r.keyPrefix + "lock:" + id
}

// Acquire implements Locker.
func (r *RedisLocker) Acquire(ctx context.Context, id string) (func(), error) {
	token := uuid.NewString()
	err := r.client.SetArgs(ctx, r.key(id), token, redis.SetArgs{Mode: "NX", TTL: r.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	go r.renew(renewCtx, id, token)

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRenew()
			// The caller's context may already be done.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			releaseScript.Run(ctx, r.client, []string{r.key(id)}, token)
		})
	}, nil
}

// renew keeps the lock alive until ctx ends or the lock is lost. A failed
// renewal is retried on the next tick; the lock survives up to ttl without
// one.
func (r *RedisLocker) renew(ctx context.Context, id, token string) {
	ticker := time.NewTicker(max(r.ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		held, err := renewScript.Run(ctx, r.client, []string{r.key(id)}, token, r.ttl.Milliseconds()).Int()
		if err == nil && held == 0 {
			return
		}
	}
}

// chain acquires every locker in order, releasing what it holds on failure.
type chain []Locker

func (c chain) Acquire(ctx context.Context, id string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		release, err := l.Acquire(ctx, id)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
