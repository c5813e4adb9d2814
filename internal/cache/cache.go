// Package cache implements the in-memory response cache.
package cache

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/metrics"
	"github.com/davidbz/switchboard/internal/observability"
)

const (
	capacityEvictRatio = 0.10
	pressureEvictRatio = 0.20
	prefetchAt         = 0.80
)

// ErrClosed is returned by Set after Close.
var ErrClosed = errors.New("cache closed")

// Config holds cache settings.
type Config struct {
	MaxEntries           int           `env:"CACHE_MAX_ENTRIES"            envDefault:"1000"`
	MaxBytes             int64         `env:"CACHE_MAX_BYTES"              envDefault:"10485760"`
	LowPriorityThreshold int           `env:"CACHE_LOW_PRIORITY_THRESHOLD" envDefault:"5"`
	SweepInterval        time.Duration `env:"CACHE_SWEEP_INTERVAL"         envDefault:"1m"`
	PrefetchRate         float64       `env:"CACHE_PREFETCH_RATE"          envDefault:"1"`
	PrefetchBurst        int           `env:"CACHE_PREFETCH_BURST"         envDefault:"5"`
	PrefetchTimeout      time.Duration `env:"CACHE_PREFETCH_TIMEOUT"       envDefault:"30s"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:           1000,
		MaxBytes:             10 * 1024 * 1024,
		LowPriorityThreshold: 5,
		SweepInterval:        time.Minute,
		PrefetchRate:         1,
		PrefetchBurst:        5,
		PrefetchTimeout:      30 * time.Second,
	}
}

// Entry is a cached response with its bookkeeping.
type Entry struct {
	Value          *domain.CompletionResponse
	CreatedAt      time.Time
	ExpiresAt      time.Time
	AccessCount    int64
	LastAccessedAt time.Time
	Priority       int
	SizeEstimate   int64

	ttl   time.Duration
	opts  domain.CacheOptions
	timer *time.Timer
}

func (e *Entry) live(now time.Time) bool {
	return !now.After(e.ExpiresAt)
}

func (e *Entry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

// Cache is a TTL + LRU response cache with priority-aware pressure relief
// and optional prefetch before expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	bytes   int64
	closed  bool

	cfg      Config
	nowFunc  func() time.Time
	prefetch *rate.Limiter

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	wg          sync.WaitGroup

	hits       atomic.Int64
	misses     atomic.Int64
	sets       atomic.Int64
	evictions  atomic.Int64
	prefetches atomic.Int64
}

// New creates a cache and starts its expiry sweeper.
func New(cfg Config, opts ...Option) *Cache {
	defaults := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.PrefetchRate <= 0 {
		cfg.PrefetchRate = defaults.PrefetchRate
	}
	if cfg.PrefetchBurst <= 0 {
		cfg.PrefetchBurst = defaults.PrefetchBurst
	}
	if cfg.PrefetchTimeout <= 0 {
		cfg.PrefetchTimeout = defaults.PrefetchTimeout
	}

	c := &Cache{
		entries:   make(map[string]*Entry),
		cfg:       cfg,
		nowFunc:   time.Now,
		prefetch:  rate.NewLimiter(rate.Limit(cfg.PrefetchRate), cfg.PrefetchBurst),
		stopSweep: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sweepTicker = time.NewTicker(cfg.SweepInterval)
	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

// Get returns a live entry's value. An expired entry is evicted and reported as a miss.
func (c *Cache) Get(_ context.Context, key string) (*domain.CompletionResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	now := c.nowFunc()
	if !entry.live(now) {
		c.removeLocked(key, "expired")
		c.misses.Add(1)
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	c.hits.Add(1)

	return entry.Value, true
}

// Set stores a value for ttl. Replacing a key keeps its access history.
func (c *Cache) Set(
	ctx context.Context,
	key string,
	value *domain.CompletionResponse,
	ttl time.Duration,
	opts domain.CacheOptions,
) error {
	if value == nil {
		return errors.New("cache value cannot be nil")
	}
	if ttl <= 0 {
		return errors.New("cache ttl must be positive")
	}

	size := estimateSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	now := c.nowFunc()
	entry := &Entry{LastAccessedAt: now}
	if previous, exists := c.entries[key]; exists {
		previous.stopTimer()
		c.bytes -= previous.SizeEstimate
		entry.AccessCount = previous.AccessCount
		entry.LastAccessedAt = previous.LastAccessedAt
	} else if len(c.entries) >= c.cfg.MaxEntries {
		c.evictLRULocked()
	}
	c.entries[key] = entry

	entry.Value = value
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)
	entry.Priority = opts.Priority
	entry.SizeEstimate = size
	entry.ttl = ttl
	entry.opts = opts
	c.bytes += size
	c.sets.Add(1)

	c.armPrefetchLocked(key, entry)

	if c.cfg.MaxBytes > 0 && c.bytes > c.cfg.MaxBytes {
		evicted := c.relievePressureLocked()
		observability.FromContext(ctx).Debug("cache memory pressure relieved",
			observability.Int("evicted", evicted),
			observability.Int64("bytes", c.bytes))
	}

	metrics.CacheEntries.Set(float64(len(c.entries)))
	return nil
}

// Has reports whether a live entry exists without touching access statistics.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	return ok && entry.live(c.nowFunc())
}

// Peek returns a copy of the entry bookkeeping without touching access statistics.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	out := *entry
	out.timer = nil
	return out, true
}

// Delete removes a key. It reports whether the key was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key, "")
	return true
}

// Len returns the number of stored entries, including not yet swept expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RelieveMemoryPressure evicts low-priority entries and returns how many were removed.
func (c *Cache) RelieveMemoryPressure() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relievePressureLocked()
}

// Stats returns cache statistics.
func (c *Cache) Stats() domain.CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	bytes := c.bytes
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return domain.CacheStats{
		Entries:    entries,
		Bytes:      bytes,
		Hits:       hits,
		Misses:     misses,
		Sets:       c.sets.Load(),
		Evictions:  c.evictions.Load(),
		Prefetches: c.prefetches.Load(),
		HitRate:    hitRate,
	}
}

// Close stops the sweeper and every pending prefetch. It is safe to call twice.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, entry := range c.entries {
		entry.stopTimer()
	}
	c.mu.Unlock()

	c.sweepTicker.Stop()
	close(c.stopSweep)
	c.wg.Wait()
	return nil
}

// Sweep removes every expired entry and returns the count.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	removed := 0
	for key, entry := range c.entries {
		if !entry.live(now) {
			c.removeLocked(key, "expired")
			removed++
		}
	}
	return removed
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.sweepTicker.C:
			c.Sweep()
		case <-c.stopSweep:
			return
		}
	}
}

// evictLRULocked drops the least recently accessed tenth of the entries.
func (c *Cache) evictLRULocked() {
	victims := c.sortedKeys(nil, func(a, b *Entry) bool {
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	})

	n := fraction(len(c.entries), capacityEvictRatio)
	for _, key := range victims[:min(n, len(victims))] {
		c.removeLocked(key, "capacity")
	}
}

// relievePressureLocked drops a fifth of the entries, taken from those below
// the priority threshold, lowest priority first.
func (c *Cache) relievePressureLocked() int {
	victims := c.sortedKeys(
		func(e *Entry) bool { return e.Priority < c.cfg.LowPriorityThreshold },
		func(a, b *Entry) bool {
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		},
	)
	if len(victims) == 0 {
		return 0
	}

	n := min(fraction(len(c.entries), pressureEvictRatio), len(victims))
	for _, key := range victims[:n] {
		c.removeLocked(key, "pressure")
	}
	return n
}

func (c *Cache) sortedKeys(keep func(*Entry) bool, less func(a, b *Entry) bool) []string {
	keys := make([]string, 0, len(c.entries))
	for key, entry := range c.entries {
		if keep == nil || keep(entry) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return less(c.entries[keys[i]], c.entries[keys[j]])
	})
	return keys
}

// removeLocked deletes a key. An empty reason is an explicit delete.
func (c *Cache) removeLocked(key string, reason string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	entry.stopTimer()
	c.bytes -= entry.SizeEstimate
	delete(c.entries, key)

	if reason != "" {
		c.evictions.Add(1)
		metrics.CacheEvictions.WithLabelValues(reason).Inc()
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// armPrefetchLocked schedules a refresh of entry. A replacing Set installs a
// new *Entry, so a pending refresh of the old one is discarded.
func (c *Cache) armPrefetchLocked(key string, entry *Entry) {
	if !entry.opts.Prefetch || entry.opts.PrefetchFunc == nil {
		return
	}
	delay := time.Duration(float64(entry.ttl) * prefetchAt)
	entry.timer = time.AfterFunc(delay, func() {
		c.runPrefetch(key, entry)
	})
}

// runPrefetch refreshes an entry. The fetch runs outside the lock; the
// result is dropped if the entry was replaced or deleted meanwhile.
func (c *Cache) runPrefetch(key string, entry *Entry) {
	logger := observability.FromContext(context.Background()).With(observability.String("cache_key", key))

	c.mu.Lock()
	current, ok := c.entries[key]
	if c.closed || !ok || current != entry {
		c.mu.Unlock()
		return
	}
	fetch := entry.opts.PrefetchFunc
	c.mu.Unlock()

	if fetch == nil {
		return
	}

	if !c.prefetch.Allow() {
		logger.Debug("cache prefetch throttled")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PrefetchTimeout)
	defer cancel()

	value, err := fetch(ctx)
	if err == nil && value == nil {
		err = errors.New("prefetch returned no value")
	}
	if err != nil {
		logger.Warn("cache prefetch failed", observability.Error(err))
		return
	}

	size := estimateSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok = c.entries[key]
	if c.closed || !ok || current != entry {
		return
	}

	now := c.nowFunc()
	c.bytes += size - entry.SizeEstimate
	entry.Value = value
	entry.SizeEstimate = size
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(entry.ttl)
	c.prefetches.Add(1)
	c.armPrefetchLocked(key, entry)

	logger.Debug("cache entry prefetched", observability.Time("expires_at", entry.ExpiresAt))
}

// estimateSize approximates an entry's memory footprint by its JSON encoding.
func estimateSize(value *domain.CompletionResponse) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

func fraction(n int, ratio float64) int {
	return max(int(math.Ceil(float64(n)*ratio)), 1)
}
