package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PricingConfig contains per-provider pricing information.
type PricingConfig struct {
	CostPerToken float64 // USD per token, prompt and completion alike
}

// CostCalculator calculates cost based on token usage.
type CostCalculator interface {
	// Calculate returns the total cost for a provider and usage.
	Calculate(ctx context.Context, providerID string, usage Usage) (float64, error)
}

// PricingRegistry maintains pricing information for providers.
type PricingRegistry interface {
	// GetPricing returns the pricing config for a provider.
	GetPricing(ctx context.Context, providerID string) (PricingConfig, error)

	// RegisterPricing adds pricing for a provider.
	RegisterPricing(ctx context.Context, providerID string, config PricingConfig) error
}

// InMemoryPricingRegistry stores pricing configs in memory.
type InMemoryPricingRegistry struct {
	mu      sync.RWMutex
	pricing map[string]PricingConfig
}

// NewInMemoryPricingRegistry creates a new in-memory pricing registry.
func NewInMemoryPricingRegistry() *InMemoryPricingRegistry {
	return &InMemoryPricingRegistry{
		mu:      sync.RWMutex{},
		pricing: make(map[string]PricingConfig),
	}
}

// NewPricingRegistryFromProviders seeds a registry from the provider table.
func NewPricingRegistryFromProviders(configs []ProviderConfig) (*InMemoryPricingRegistry, error) {
	registry := NewInMemoryPricingRegistry()
	for _, cfg := range configs {
		if cfg.CostPerToken < 0 {
			return nil, fmt.Errorf("%w: negative cost_per_token for %s", ErrConfiguration, cfg.ID)
		}
		if err := registry.RegisterPricing(context.Background(), cfg.ID, PricingConfig{
			CostPerToken: cfg.CostPerToken,
		}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// GetPricing retrieves pricing for a provider.
func (r *InMemoryPricingRegistry) GetPricing(_ context.Context, providerID string) (PricingConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, exists := r.pricing[providerID]
	if !exists {
		return PricingConfig{}, fmt.Errorf("pricing not found for provider: %s", providerID)
	}

	return config, nil
}

// RegisterPricing adds pricing for a provider.
func (r *InMemoryPricingRegistry) RegisterPricing(_ context.Context, providerID string, config PricingConfig) error {
	if providerID == "" {
		return errors.New("provider id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pricing[providerID] = config
	return nil
}

// TokenCostCalculator charges a flat per-token price.
type TokenCostCalculator struct {
	pricingRegistry PricingRegistry
}

// NewTokenCostCalculator creates a new cost calculator.
func NewTokenCostCalculator(registry PricingRegistry) *TokenCostCalculator {
	return &TokenCostCalculator{
		pricingRegistry: registry,
	}
}

// Calculate multiplies total tokens by the provider's per-token cost.
func (c *TokenCostCalculator) Calculate(ctx context.Context, providerID string, usage Usage) (float64, error) {
	if providerID == "" {
		return 0, errors.New("provider id cannot be empty")
	}

	pricing, err := c.pricingRegistry.GetPricing(ctx, providerID)
	if err != nil {
		//nolint:nilerr // Unknown pricing is free, not a request failure
		return 0, nil
	}

	tokens := usage.TotalTokens
	if tokens == 0 {
		tokens = usage.PromptTokens + usage.CompletionTokens
	}

	return float64(tokens) * pricing.CostPerToken, nil
}
