package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "switchboard:ratelimit:"

// Result is the outcome of one window check.
type Result struct {
	Allowed bool
	// Count is the number of admissions inside the window after the check.
	Count int
	// Oldest is the earliest admission still inside the window. Set on denial.
	Oldest time.Time
}

// Store keeps admission timestamps per key.
type Store interface {
	// Admit prunes timestamps older than the window, then records now and
	// allows if fewer than ceiling remain.
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, ceiling int) (Result, error)

	// Cleanup drops keys whose newest admission is older than idle.
	Cleanup(ctx context.Context, now time.Time, idle time.Duration) (int, error)
}

// MemoryStore keeps sliding windows in memory.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore creates a new in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string][]time.Time),
	}
}

// Admit checks and records an admission in one critical section.
func (m *MemoryStore) Admit(
	_ context.Context,
	key string,
	now time.Time,
	window time.Duration,
	ceiling int,
) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timestamps := prune(m.windows[key], now, window)

	if len(timestamps) < ceiling {
		timestamps = append(timestamps, now)
		m.windows[key] = timestamps
		return Result{Allowed: true, Count: len(timestamps)}, nil
	}

	m.windows[key] = timestamps
	return Result{Allowed: false, Count: len(timestamps), Oldest: timestamps[0]}, nil
}

// Cleanup drops idle keys.
func (m *MemoryStore) Cleanup(_ context.Context, now time.Time, idle time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, timestamps := range m.windows {
		if len(timestamps) == 0 || now.Sub(timestamps[len(timestamps)-1]) >= idle {
			delete(m.windows, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// prune drops timestamps that fell out of the window. Timestamps are sorted.
func prune(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := 0
	for cut < len(timestamps) && now.Sub(timestamps[cut]) >= window {
		cut++
	}
	if cut == 0 {
		return timestamps
	}
	return append(timestamps[:0], timestamps[cut:]...)
}

// slidingWindowScript atomically prunes, counts and records an admission.
//
// Keys:
//
//	KEYS[1] - sorted set of admission timestamps (ms)
//
// Args:
//
//	ARGV[1] - now (ms)
//	ARGV[2] - window (ms)
//	ARGV[3] - ceiling
//	ARGV[4] - unique member for this admission
//
// Returns:
//
//	{allowed (0/1), count, oldest score (ms, 0 when allowed)}
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local ceiling = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count < ceiling then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return {1, count + 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, count, tonumber(oldest[2])}
`

// RedisStore shares sliding windows between gateway instances.
type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
}

// NewRedisStore creates a new Redis-backed window store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(slidingWindowScript),
	}
}

// Admit runs the sliding window script.
func (r *RedisStore) Admit(
	ctx context.Context,
	key string,
	now time.Time,
	window time.Duration,
	ceiling int,
) (Result, error) {
	if r == nil || r.client == nil {
		return Result{}, errors.New("redis client is nil")
	}

	args := []interface{}{
		now.UnixMilli(),
		window.Milliseconds(),
		ceiling,
		fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	}

	values, err := r.script.Run(ctx, r.client, []string{redisKeyPrefix + key}, args...).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(values) != 3 {
		return Result{}, fmt.Errorf("unexpected rate limit script result length: %d", len(values))
	}

	result := Result{
		Allowed: values[0] == 1,
		Count:   int(values[1]),
	}
	if !result.Allowed {
		result.Oldest = time.UnixMilli(values[2])
	}
	return result, nil
}

// Cleanup is a no-op: Redis expires idle windows with PEXPIRE.
func (r *RedisStore) Cleanup(_ context.Context, _ time.Time, _ time.Duration) (int, error) {
	return 0, nil
}
