package domain

import (
	"context"
	"time"
)

// Backend is the capability every LLM backend exposes.
type Backend interface {
	// Initialize (re)configures the backend with a credential. Empty for keyless kinds.
	Initialize(ctx context.Context, credential string) error

	// GenerateCompletion sends the messages and returns the completion.
	GenerateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// IsAvailable reports whether the backend is ready to take requests.
	IsAvailable() bool
}

// ProviderRegistry holds provider configuration and runtime state.
type ProviderRegistry interface {
	// Register adds a provider. Registration order breaks priority ties.
	Register(ctx context.Context, cfg ProviderConfig, backend Backend) error

	// Get returns a snapshot of the provider.
	Get(ctx context.Context, id string) (Provider, bool)

	// List returns all providers in registration order.
	List(ctx context.Context) []Provider

	// SetStatus updates the runtime status. detail is kept as the last error.
	SetStatus(ctx context.Context, id string, status Status, detail string) error

	// SetAvailable toggles the available flag.
	SetAvailable(ctx context.Context, id string, available bool) error

	// RecordUsage bumps usage statistics after a successful request.
	RecordUsage(ctx context.Context, id string)

	// RecordFailure stores the error of a failed attempt.
	RecordFailure(ctx context.Context, id string, err error)

	// Reinitialize re-runs Initialize on the provider's backend with a credential.
	Reinitialize(ctx context.Context, id string, credential string) error

	// BestAvailable returns the eligible provider with the lowest priority,
	// or the synthetic provider when none is eligible.
	BestAvailable(ctx context.Context) (Provider, bool)

	// NextEligible returns the next eligible provider after the given id in
	// fallback order, or the synthetic provider.
	NextEligible(ctx context.Context, after string) (Provider, bool)

	// Synthetic returns the always-available fallback provider.
	Synthetic(ctx context.Context) (Provider, bool)

	// FallbackOrder returns provider ids sorted by priority, synthetic last.
	FallbackOrder(ctx context.Context) []string
}

// CredentialPool rotates credentials per backend kind.
type CredentialPool interface {
	// Has reports whether a pool exists for the kind.
	Has(kind string) bool

	// Size returns the number of credentials for the kind.
	Size(kind string) int

	// Current returns the active credential for the kind.
	Current(ctx context.Context, kind string) (string, error)

	// Rotate advances the kind's index by one and returns the new credential.
	Rotate(ctx context.Context, kind string) (string, error)

	// Snapshot returns pool positions for status reporting.
	Snapshot(ctx context.Context) map[string]KeyPoolStatus
}

// KeyPoolStatus describes one credential pool without revealing secrets.
type KeyPoolStatus struct {
	Size      int    `json:"size"`
	Index     int    `json:"index"`
	Current   string `json:"current"` // masked
	Rotations int64  `json:"rotations"`
}

// Router executes a request against providers with retries and fallback.
type Router interface {
	Send(ctx context.Context, req *CompletionRequest) (*RouteResult, error)
}

// RateLimiter performs admission control.
type RateLimiter interface {
	Admit(ctx context.Context, scope string, identifier string) (RateDecision, error)
}

// ResponseCache stores completions by request fingerprint.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*CompletionResponse, bool)
	Set(ctx context.Context, key string, value *CompletionResponse, ttl time.Duration, opts CacheOptions) error
	Stats() CacheStats
	Close() error
}

// HealthMonitor probes providers in the background.
type HealthMonitor interface {
	// RunOnce probes every eligible provider synchronously.
	RunOnce(ctx context.Context)

	// Start launches the background loops until Stop or ctx cancellation.
	Start(ctx context.Context)

	// Stop halts the background loops.
	Stop()
}

// StatsRecorder aggregates request statistics.
type StatsRecorder interface {
	RecordAttempt(rec AttemptRecord)
	RecordRequest(success bool, fallback bool)
	RecordRotation(kind string)
	RecordCacheLookup(hit bool)
	RecordRateLimited(scope string)
	Snapshot() StatsSnapshot
	HealthSnapshot() HealthSnapshot
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// Event types published by the gateway.
const (
	EventProviderRecovered = "provider_recovered"
	EventProviderDegraded  = "provider_degraded"
	EventCredentialRotated = "credential_rotated"
	EventFallbackUsed      = "fallback_used"
)
