package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "switchboard:credential:"

// Store keeps the rotation counter of each backend kind.
// Counters only grow; the pool maps them onto its key list with a modulo.
type Store interface {
	// Counter returns the current counter for the kind.
	Counter(ctx context.Context, kind string) (int64, error)

	// Advance increments the counter and returns the new value.
	Advance(ctx context.Context, kind string) (int64, error)
}

// MemoryStore keeps rotation counters in memory.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]int64),
	}
}

// Counter returns the current counter for the kind.
func (m *MemoryStore) Counter(_ context.Context, kind string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[kind], nil
}

// Advance increments the counter and returns the new value.
func (m *MemoryStore) Advance(_ context.Context, kind string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[kind]++
	return m.counters[kind], nil
}

// RedisStore shares rotation counters between gateway instances.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a new Redis-backed counter store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Counter returns the current counter for the kind. A missing key is zero.
func (r *RedisStore) Counter(ctx context.Context, kind string) (int64, error) {
	if r == nil || r.client == nil {
		return 0, errors.New("redis client is nil")
	}

	val, err := r.client.Get(ctx, redisKeyPrefix+kind).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read credential counter: %w", err)
	}

	counter, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid credential counter %q: %w", val, err)
	}
	return counter, nil
}

// Advance increments the counter and returns the new value.
func (r *RedisStore) Advance(ctx context.Context, kind string) (int64, error) {
	if r == nil || r.client == nil {
		return 0, errors.New("redis client is nil")
	}

	counter, err := r.client.Incr(ctx, redisKeyPrefix+kind).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance credential counter: %w", err)
	}
	return counter, nil
}
