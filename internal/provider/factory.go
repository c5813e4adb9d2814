// Package provider maps backend kinds to constructors and registers the
// configured provider table.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/provider/mock"
	"github.com/davidbz/switchboard/internal/provider/openai"
)

// Kind describes how to build one backend kind.
type Kind struct {
	New             func(cfg domain.ProviderConfig) domain.Backend
	NeedsCredential bool
}

// Factory creates backends by kind.
type Factory struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewFactory creates a factory with the built-in kinds registered.
func NewFactory() *Factory {
	f := &Factory{kinds: make(map[string]Kind)}
	f.Register(domain.KindOpenAI, Kind{
		New: func(cfg domain.ProviderConfig) domain.Backend {
			return openai.NewBackend(cfg)
		},
		NeedsCredential: true,
	})
	f.Register(domain.KindMock, Kind{
		New: func(cfg domain.ProviderConfig) domain.Backend {
			return mock.NewBackend(cfg)
		},
		NeedsCredential: false,
	})
	return f
}

// Register adds or replaces a kind.
func (f *Factory) Register(name string, kind Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds[name] = kind
}

// Kinds returns all registered kind names.
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.kinds))
	for name := range f.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the backend for a provider.
func (f *Factory) Create(cfg domain.ProviderConfig) (domain.Backend, error) {
	f.mu.RLock()
	kind, ok := f.kinds[cfg.Kind]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown provider type %q for %s (available: %v)",
			domain.ErrConfiguration, cfg.Kind, cfg.ID, f.Kinds())
	}

	return kind.New(cfg), nil
}

// RegisterAll validates the provider table and registers every provider.
// It fails on unknown kinds, a missing credential pool for a kind that needs
// one, or a table without exactly one synthetic provider.
func (f *Factory) RegisterAll(
	ctx context.Context,
	registry domain.ProviderRegistry,
	configs []domain.ProviderConfig,
	pool domain.CredentialPool,
) error {
	synthetic := 0
	for _, cfg := range configs {
		if cfg.Kind == domain.KindMock {
			synthetic++
		}

		f.mu.RLock()
		kind, ok := f.kinds[cfg.Kind]
		f.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: unknown provider type %q for %s", domain.ErrConfiguration, cfg.Kind, cfg.ID)
		}
		if kind.NeedsCredential && (pool == nil || !pool.Has(cfg.Kind)) {
			return fmt.Errorf("%w: provider %s needs a credential pool for %q",
				domain.ErrConfiguration, cfg.ID, cfg.Kind)
		}
	}

	if synthetic != 1 {
		return fmt.Errorf("%w: expected exactly one %q provider, found %d",
			domain.ErrConfiguration, domain.KindMock, synthetic)
	}

	for _, cfg := range configs {
		backend, err := f.Create(cfg)
		if err != nil {
			return err
		}
		if err = registry.Register(ctx, cfg, backend); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
	}

	return nil
}
