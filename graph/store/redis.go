package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store[S].
//
// Only the latest step of each run is kept, under one key per run that
// expires after ttl. A sorted set scored by save time indexes runs so
// DeleteBefore can sweep them without scanning the keyspace.
type RedisStore[S any] struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

type redisRecord struct {
	Step    int             `json:"step"`
	NodeID  string          `json:"node_id"`
	State   json.RawMessage `json:"state"`
	SavedAt int64           `json:"saved_at"`
}

// NewRedisStore wraps an existing client. keyPrefix defaults to
// "tailorgraph:" and a zero ttl keeps runs until they are deleted.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	st := store.NewRedisStore[MyState](client, "tailor:", 24*time.Hour)
func NewRedisStore[S any](client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore[S] {
	if keyPrefix == "" {
		keyPrefix = "tailorgraph:"
	}
	return &RedisStore[S]{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// runKey returns the Redis key holding a run's latest step
func (r *RedisStore[S]) runKey(runID string) string {
	return r.keyPrefix + "run:" + runID
}

// indexKey returns the Redis key of the run index
func (r *RedisStore[S]) indexKey() string {
	return r.keyPrefix + "runs"
}

// SaveStep stores the step as the run's latest state unless a later step
// is already stored.
func (r *RedisStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	now := time.Now().UnixNano()
	data, err := json.Marshal(redisRecord{Step: step, NodeID: nodeID, State: stateJSON, SavedAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	existing, err := r.load(ctx, runID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil && existing.Step > step {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.runKey(runID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(now), Member: runID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the latest step for runID.
func (r *RedisStore[S]) LoadLatest(ctx context.Context, runID string) (state S, step int, err error) {
	var zero S

	rec, err := r.load(ctx, runID)
	if err != nil {
		return zero, 0, err
	}
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, rec.Step, nil
}

func (r *RedisStore[S]) load(ctx context.Context, runID string) (redisRecord, error) {
	var rec redisRecord

	data, err := r.client.Get(ctx, r.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load run: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// Delete removes runID and its index entry.
func (r *RedisStore[S]) Delete(ctx context.Context, runID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.runKey(runID))
	pipe.ZRem(ctx, r.indexKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// deleteStaleScript removes a run only if its index score is still below
// the cutoff, so a run saved again after the sweep listed it survives.
// It returns -1 for a skipped run, else the number of run keys deleted.
var deleteStaleScript = redis.NewScript(`
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not score or tonumber(score) >= tonumber(ARGV[2]) then
	return -1
end
redis.call("ZREM", KEYS[1], ARGV[1])
return redis.call("DEL", KEYS[2])
`)

// DeleteBefore removes runs last saved before cutoff. Runs that already
// expired through the TTL only lose their index entry and are not counted.
func (r *RedisStore[S]) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	bound := strconv.FormatInt(cutoff.UnixNano(), 10)
	runIDs, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: "(" + bound}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list stale runs: %w", err)
	}

	removed := 0
	for _, runID := range runIDs {
		n, err := r.deleteStale(ctx, runID, bound)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// deleteStale removes runID if it was last saved before bound, given in
// Unix nanoseconds.
func (r *RedisStore[S]) deleteStale(ctx context.Context, runID, bound string) (int, error) {
	n, err := deleteStaleScript.Run(ctx, r.client, []string{r.indexKey(), r.runKey(runID)}, runID, bound).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	return max(n, 0), nil
}

// Ping checks that Redis is reachable.
func (r *RedisStore[S]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
