// Package ratelimit implements sliding-window admission control whose
// ceiling adapts to recent backend health.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/metrics"
	"github.com/davidbz/switchboard/internal/observability"
)

// Scope is a named admission bucket.
type Scope struct {
	Name        string
	BaseCeiling int
	Window      time.Duration
}

// Thresholds map backend health to a ceiling factor.
type Thresholds struct {
	HighLatency     time.Duration
	HighErrorRate   float64
	ModerateLatency time.Duration
	ModerateErrRate float64
	LowLatency      time.Duration
	LowErrorRate    float64

	HighFactor     float64
	ModerateFactor float64
	LowFactor      float64
}

// DefaultThresholds returns the stock tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighLatency:     5 * time.Second,
		HighErrorRate:   0.25,
		ModerateLatency: 2 * time.Second,
		ModerateErrRate: 0.10,
		LowLatency:      time.Second,
		LowErrorRate:    0.02,
		HighFactor:      0.5,
		ModerateFactor:  0.75,
		LowFactor:       1.25,
	}
}

// Factor returns the ceiling multiplier for a health snapshot.
func (t Thresholds) Factor(h domain.HealthSnapshot) float64 {
	if h.Samples == 0 {
		return 1.0
	}

	switch {
	case h.AvgResponseTime > t.HighLatency || h.ErrorRate > t.HighErrorRate:
		return t.HighFactor
	case h.AvgResponseTime > t.ModerateLatency || h.ErrorRate > t.ModerateErrRate:
		return t.ModerateFactor
	case h.AvgResponseTime < t.LowLatency && h.ErrorRate < t.LowErrorRate:
		return t.LowFactor
	default:
		return 1.0
	}
}

// HealthSource supplies the snapshot the ceiling is derived from.
type HealthSource interface {
	HealthSnapshot() domain.HealthSnapshot
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithThresholds overrides the default tuning.
func WithThresholds(t Thresholds) Option {
	return func(l *Limiter) {
		l.thresholds = t
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.nowFunc = now
	}
}

// Limiter implements domain.RateLimiter.
type Limiter struct {
	store      Store
	health     HealthSource
	thresholds Thresholds
	nowFunc    func() time.Time

	mu     sync.RWMutex
	scopes map[string]Scope
}

// NewLimiter creates a new adaptive limiter. A nil store keeps windows in memory.
func NewLimiter(store Store, health HealthSource, scopes []Scope, opts ...Option) (*Limiter, error) {
	if store == nil {
		store = NewMemoryStore()
	}

	l := &Limiter{
		store:      store,
		health:     health,
		thresholds: DefaultThresholds(),
		nowFunc:    time.Now,
		scopes:     make(map[string]Scope, len(scopes)),
	}

	for _, s := range scopes {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: rate limit scope name cannot be empty", domain.ErrConfiguration)
		}
		if s.BaseCeiling < 1 {
			return nil, fmt.Errorf("%w: rate limit scope %s needs a positive ceiling", domain.ErrConfiguration, s.Name)
		}
		if s.Window <= 0 {
			return nil, fmt.Errorf("%w: rate limit scope %s needs a positive window", domain.ErrConfiguration, s.Name)
		}
		l.scopes[s.Name] = s
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Admit checks and records one admission for the identifier.
func (l *Limiter) Admit(ctx context.Context, scope string, identifier string) (domain.RateDecision, error) {
	s, ok := l.scope(scope)
	if !ok {
		return domain.RateDecision{}, fmt.Errorf("unknown rate limit scope: %s", scope)
	}

	ceiling := l.ceiling(s)
	now := l.nowFunc()

	result, err := l.store.Admit(ctx, key(scope, identifier), now, s.Window, ceiling)
	if err != nil {
		return domain.RateDecision{}, err
	}

	if result.Allowed {
		return domain.RateDecision{
			Allowed:   true,
			Remaining: max(ceiling-result.Count, 0),
			Ceiling:   ceiling,
		}, nil
	}

	retryAfter := s.Window - now.Sub(result.Oldest)
	if retryAfter < 0 {
		retryAfter = 0
	}

	observability.FromContext(ctx).Debug("rate limit denied",
		observability.String("scope", scope),
		observability.String("identifier", identifier),
		observability.Int("ceiling", ceiling),
		observability.Duration("retry_after", retryAfter))

	return domain.RateDecision{
		Allowed:    false,
		RetryAfter: retryAfter,
		Ceiling:    ceiling,
	}, nil
}

// EffectiveCeiling returns the scope's current ceiling, or 0 for an unknown scope.
func (l *Limiter) EffectiveCeiling(scope string) int {
	s, ok := l.scope(scope)
	if !ok {
		return 0
	}
	return l.ceiling(s)
}

// Cleanup drops windows idle for longer than the widest scope window.
func (l *Limiter) Cleanup(ctx context.Context) (int, error) {
	l.mu.RLock()
	var widest time.Duration
	for _, s := range l.scopes {
		widest = max(widest, s.Window)
	}
	l.mu.RUnlock()

	if widest == 0 {
		return 0, nil
	}
	return l.store.Cleanup(ctx, l.nowFunc(), widest)
}

func (l *Limiter) scope(name string) (Scope, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scopes[name]
	return s, ok
}

func (l *Limiter) ceiling(s Scope) int {
	factor := 1.0
	if l.health != nil {
		factor = l.thresholds.Factor(l.health.HealthSnapshot())
	}

	ceiling := int(math.Floor(float64(s.BaseCeiling) * factor))
	if ceiling < 1 {
		ceiling = 1
	}

	metrics.RateLimitCeiling.WithLabelValues(s.Name).Set(float64(ceiling))
	return ceiling
}

func key(scope, identifier string) string {
	return scope + ":" + identifier
}
