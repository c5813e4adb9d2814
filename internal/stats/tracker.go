// Package stats aggregates request and attempt statistics.
package stats

import (
	"sync"
	"time"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/metrics"
)

const (
	defaultCapacity = 256
	defaultWindow   = 5 * time.Minute
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithCapacity bounds the number of attempt records kept (default: 256).
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.records = make([]domain.AttemptRecord, n)
		}
	}
}

// WithWindow sets how far back the health snapshot looks (default: 5m).
func WithWindow(window time.Duration) Option {
	return func(t *Tracker) {
		if window > 0 {
			t.window = window
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.nowFunc = now
	}
}

// Tracker implements domain.StatsRecorder.
type Tracker struct {
	mu      sync.Mutex
	records []domain.AttemptRecord
	next    int
	filled  bool
	window  time.Duration
	nowFunc func() time.Time

	requests    int64
	successes   int64
	failures    int64
	fallbacks   int64
	attempts    int64
	rotations   int64
	cacheHits   int64
	cacheMisses int64
	rateLimited int64
	totalTime   time.Duration
	timed       int64
}

// NewTracker creates a tracker with a bounded attempt ring.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records: make([]domain.AttemptRecord, defaultCapacity),
		window:  defaultWindow,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordAttempt stores one backend invocation.
func (t *Tracker) RecordAttempt(rec domain.AttemptRecord) {
	result := "success"
	if !rec.Success {
		result = "failure"
	}
	metrics.Attempts.WithLabelValues(rec.ProviderID, result, string(rec.ErrorKind)).Inc()
	metrics.AttemptLatency.WithLabelValues(rec.ProviderID).Observe(rec.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts++
	t.totalTime += rec.Duration
	t.timed++

	t.records[t.next] = rec
	t.next = (t.next + 1) % len(t.records)
	if t.next == 0 {
		t.filled = true
	}
}

// RecordRequest counts a finished gateway request.
func (t *Tracker) RecordRequest(success bool, fallback bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metrics.Requests.WithLabelValues(outcome).Inc()
	if fallback {
		metrics.Fallbacks.Inc()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests++
	if success {
		t.successes++
	} else {
		t.failures++
	}
	if fallback {
		t.fallbacks++
	}
}

// RecordRotation counts a credential rotation.
func (t *Tracker) RecordRotation(_ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotations++
}

// RecordCacheLookup counts a cache hit or miss.
func (t *Tracker) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues(result).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	if hit {
		t.cacheHits++
	} else {
		t.cacheMisses++
	}
}

// RecordRateLimited counts a denied admission.
func (t *Tracker) RecordRateLimited(scope string) {
	metrics.RateLimited.WithLabelValues(scope).Inc()
	metrics.Requests.WithLabelValues("rate_limited").Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rateLimited++
}

// Snapshot returns aggregate counters.
func (t *Tracker) Snapshot() domain.StatsSnapshot {
	health := t.HealthSnapshot()

	t.mu.Lock()
	defer t.mu.Unlock()

	snap := domain.StatsSnapshot{
		Requests:       t.requests,
		Successes:      t.successes,
		Failures:       t.failures,
		Fallbacks:      t.fallbacks,
		Attempts:       t.attempts,
		Rotations:      t.rotations,
		CacheHits:      t.cacheHits,
		CacheMisses:    t.cacheMisses,
		RateLimited:    t.rateLimited,
		RecentErrorPct: health.ErrorRate * 100,
	}
	if t.requests > 0 {
		snap.SuccessRate = float64(t.successes) / float64(t.requests)
	}
	if t.timed > 0 {
		snap.AvgResponseMs = float64(t.totalTime.Milliseconds()) / float64(t.timed)
	}
	return snap
}

// HealthSnapshot summarizes real backend attempts inside the window.
// Synthetic attempts are left out so fallback traffic cannot look healthy.
func (t *Tracker) HealthSnapshot() domain.HealthSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.nowFunc().Add(-t.window)
	n := t.next
	if t.filled {
		n = len(t.records)
	}

	var (
		samples  int
		failures int
		total    time.Duration
	)
	for i := 0; i < n; i++ {
		rec := t.records[i]
		if rec.Synthetic || rec.StartedAt.Before(cutoff) {
			continue
		}
		samples++
		total += rec.Duration
		if !rec.Success {
			failures++
		}
	}

	if samples == 0 {
		return domain.HealthSnapshot{}
	}
	return domain.HealthSnapshot{
		AvgResponseTime: total / time.Duration(samples),
		ErrorRate:       float64(failures) / float64(samples),
		Samples:         samples,
	}
}
