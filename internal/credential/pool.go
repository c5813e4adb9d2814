// Package credential rotates API keys per backend kind.
package credential

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/metrics"
	"github.com/davidbz/switchboard/internal/observability"
)

const visibleKeyChars = 4

// Pool implements domain.CredentialPool.
type Pool struct {
	store     Store
	keys      map[string][]string
	mu        sync.Mutex
	rotations map[string]int64
	events    domain.EventPublisher
}

// Option configures a Pool.
type Option func(*Pool)

// WithEvents publishes a credential_rotated event on every rotation.
func WithEvents(events domain.EventPublisher) Option {
	return func(p *Pool) {
		p.events = events
	}
}

// NewPool builds a pool from kind -> ordered credentials. Every listed kind
// must have at least one non-empty credential.
func NewPool(store Store, credentials map[string][]string, opts ...Option) (*Pool, error) {
	if store == nil {
		store = NewMemoryStore()
	}

	keys := make(map[string][]string, len(credentials))
	for kind, list := range credentials {
		cleaned := make([]string, 0, len(list))
		for _, key := range list {
			if key = strings.TrimSpace(key); key != "" {
				cleaned = append(cleaned, key)
			}
		}
		if len(cleaned) == 0 {
			return nil, fmt.Errorf("%w: credential pool for %q is empty", domain.ErrConfiguration, kind)
		}
		keys[kind] = cleaned
	}

	pool := &Pool{
		store:     store,
		keys:      keys,
		rotations: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool, nil
}

// Has reports whether a pool exists for the kind.
func (p *Pool) Has(kind string) bool {
	_, ok := p.keys[kind]
	return ok
}

// Size returns the number of credentials for the kind.
func (p *Pool) Size(kind string) int {
	return len(p.keys[kind])
}

// Kinds returns the pooled backend kinds in sorted order.
func (p *Pool) Kinds() []string {
	kinds := make([]string, 0, len(p.keys))
	for kind := range p.keys {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Current returns the active credential for the kind.
func (p *Pool) Current(ctx context.Context, kind string) (string, error) {
	keys, ok := p.keys[kind]
	if !ok {
		return "", fmt.Errorf("no credential pool for %q", kind)
	}

	counter, err := p.store.Counter(ctx, kind)
	if err != nil {
		return "", err
	}
	return keys[index(counter, len(keys))], nil
}

// Rotate advances the kind's index by one, wrapping around, and returns the
// new active credential. A single-key pool yields the same key.
func (p *Pool) Rotate(ctx context.Context, kind string) (string, error) {
	keys, ok := p.keys[kind]
	if !ok {
		return "", fmt.Errorf("no credential pool for %q", kind)
	}

	counter, err := p.store.Advance(ctx, kind)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.rotations[kind]++
	p.mu.Unlock()
	metrics.Rotations.WithLabelValues(kind).Inc()

	idx := index(counter, len(keys))
	observability.FromContext(ctx).Info("credential rotated",
		observability.String("type", kind),
		observability.Int("index", idx),
		observability.Int("pool_size", len(keys)))

	if p.events != nil {
		p.events.Publish(ctx, domain.EventCredentialRotated, map[string]interface{}{
			"type":  kind,
			"index": idx,
		})
	}

	return keys[idx], nil
}

// Snapshot returns the position of every pool. Credentials are masked.
func (p *Pool) Snapshot(ctx context.Context) map[string]domain.KeyPoolStatus {
	out := make(map[string]domain.KeyPoolStatus, len(p.keys))

	p.mu.Lock()
	rotations := make(map[string]int64, len(p.rotations))
	for kind, n := range p.rotations {
		rotations[kind] = n
	}
	p.mu.Unlock()

	for kind, keys := range p.keys {
		status := domain.KeyPoolStatus{
			Size:      len(keys),
			Rotations: rotations[kind],
		}
		counter, err := p.store.Counter(ctx, kind)
		if err != nil {
			observability.FromContext(ctx).Warn("failed to read credential counter",
				observability.String("type", kind),
				observability.Error(err))
		} else {
			status.Index = index(counter, len(keys))
			status.Current = Mask(keys[status.Index])
		}
		out[kind] = status
	}
	return out
}

// Mask hides all but the last few characters of a credential.
func Mask(key string) string {
	if len(key) <= visibleKeyChars {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-visibleKeyChars) + key[len(key)-visibleKeyChars:]
}

func index(counter int64, size int) int {
	idx := counter % int64(size)
	if idx < 0 {
		idx += int64(size)
	}
	return int(idx)
}
