package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/metrics"
)

type entry struct {
	seq     int
	config  domain.ProviderConfig
	state   domain.ProviderState
	backend domain.Backend
}

func (e *entry) snapshot() domain.Provider {
	cfg := e.config
	cfg.Features = append([]string(nil), e.config.Features...)
	return domain.Provider{
		Config:  cfg,
		State:   e.state,
		Backend: e.backend,
	}
}

func (e *entry) synthetic() bool {
	return e.config.Kind == domain.KindMock
}

func (e *entry) eligible() bool {
	return e.state.Available && e.state.Status == domain.StatusConnected
}

// Registry implements the ProviderRegistry interface.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*entry
	nextSeq   int
	nowFunc   func() time.Time
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:        sync.RWMutex{},
		providers: make(map[string]*entry),
		nowFunc:   time.Now,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(_ context.Context, cfg domain.ProviderConfig, backend domain.Backend) error {
	if backend == nil {
		return errors.New("backend cannot be nil")
	}

	if cfg.ID == "" {
		return errors.New("provider id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[cfg.ID]; exists {
		return fmt.Errorf("provider %s already registered", cfg.ID)
	}

	r.providers[cfg.ID] = &entry{
		seq:     r.nextSeq,
		config:  cfg,
		state:   domain.ProviderState{Status: domain.StatusUnknown},
		backend: backend,
	}
	r.nextSeq++

	return nil
}

// Get retrieves a provider snapshot by id.
func (r *Registry) Get(_ context.Context, id string) (domain.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.providers[id]
	if !exists {
		return domain.Provider{}, false
	}
	return e.snapshot(), true
}

// List returns all providers in registration order.
func (r *Registry) List(_ context.Context) []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byRegistration()
	out := make([]domain.Provider, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// SetStatus updates the runtime status and stamps LastTested.
func (r *Registry) SetStatus(_ context.Context, id string, status domain.Status, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.providers[id]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrProviderNotFound, id)
	}

	e.state.Status = status
	e.state.LastTested = r.nowFunc()
	if status == domain.StatusConnected {
		e.state.LastError = ""
	} else if detail != "" {
		e.state.LastError = detail
	}
	r.publishUp(e)

	return nil
}

// SetAvailable toggles the available flag.
func (r *Registry) SetAvailable(_ context.Context, id string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.providers[id]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrProviderNotFound, id)
	}

	e.state.Available = available
	r.publishUp(e)
	return nil
}

// RecordUsage bumps usage statistics after a successful request.
func (r *Registry) RecordUsage(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.providers[id]; exists {
		e.state.UsageCount++
		e.state.LastUsed = r.nowFunc()
	}
}

// RecordFailure keeps the error of a failed attempt for status reporting.
func (r *Registry) RecordFailure(_ context.Context, id string, err error) {
	if err == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.providers[id]; exists {
		e.state.LastError = err.Error()
	}
}

// Reinitialize re-runs Initialize on the provider's backend. The backend call
// happens outside the lock.
func (r *Registry) Reinitialize(ctx context.Context, id string, credential string) error {
	r.mu.RLock()
	e, exists := r.providers[id]
	var backend domain.Backend
	if exists {
		backend = e.backend
	}
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrProviderNotFound, id)
	}

	initErr := backend.Initialize(ctx, credential)
	available := initErr == nil && backend.IsAvailable()

	r.mu.Lock()
	defer r.mu.Unlock()

	e.state.Available = available
	if initErr != nil {
		e.state.Status = domain.StatusError
		e.state.LastError = initErr.Error()
		r.publishUp(e)
		return fmt.Errorf("failed to initialize provider %s: %w", id, initErr)
	}
	r.publishUp(e)

	return nil
}

// BestAvailable returns the eligible non-synthetic provider with the lowest
// priority, ties broken by registration sequence, or the synthetic provider.
func (r *Registry) BestAvailable(_ context.Context) (domain.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	for _, e := range r.providers {
		if e.synthetic() || !e.eligible() {
			continue
		}
		if best == nil || less(e, best) {
			best = e
		}
	}
	if best != nil {
		return best.snapshot(), true
	}

	return r.syntheticLocked()
}

// NextEligible returns the first eligible provider after the given id in
// fallback order. An unknown id starts from the head of the order.
func (r *Registry) NextEligible(_ context.Context, after string) (domain.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.byPriority()
	start := 0
	for i, e := range ordered {
		if e.config.ID == after {
			start = i + 1
			break
		}
	}

	for _, e := range ordered[start:] {
		if !e.synthetic() && e.eligible() {
			return e.snapshot(), true
		}
	}

	return r.syntheticLocked()
}

// Synthetic returns the always-available fallback provider.
func (r *Registry) Synthetic(_ context.Context) (domain.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.syntheticLocked()
}

// FallbackOrder returns provider ids sorted by priority, synthetic last.
func (r *Registry) FallbackOrder(_ context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.byPriority()
	ids := make([]string, 0, len(ordered))
	var synthetic []string
	for _, e := range ordered {
		if e.synthetic() {
			synthetic = append(synthetic, e.config.ID)
			continue
		}
		ids = append(ids, e.config.ID)
	}
	return append(ids, synthetic...)
}

func (r *Registry) syntheticLocked() (domain.Provider, bool) {
	var found *entry
	for _, e := range r.providers {
		if e.synthetic() && (found == nil || e.seq < found.seq) {
			found = e
		}
	}
	if found == nil {
		return domain.Provider{}, false
	}
	return found.snapshot(), true
}

func (r *Registry) byRegistration() []*entry {
	entries := make([]*entry, 0, len(r.providers))
	for _, e := range r.providers {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	return entries
}

func (r *Registry) byPriority() []*entry {
	entries := r.byRegistration()
	sort.SliceStable(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})
	return entries
}

func (r *Registry) publishUp(e *entry) {
	metrics.ProviderUp.WithLabelValues(e.config.ID).Set(metrics.BoolGauge(e.eligible()))
}

func less(a, b *entry) bool {
	if a.config.Priority != b.config.Priority {
		return a.config.Priority < b.config.Priority
	}
	return a.seq < b.seq
}
