package domain

import "time"

// Backend kinds known to the gateway.
const (
	KindOpenAI = "openai"
	// KindMock is the synthetic, always-available backend used as last resort.
	KindMock = "mock"
)

// Status is the runtime health state of a provider.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusConnected Status = "connected"
	StatusUnhealthy Status = "unhealthy"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

const defaultProviderTimeout = 30 * time.Second

// ProviderConfig is the static configuration of one provider.
type ProviderConfig struct {
	ID           string   `yaml:"id"            json:"id"`
	Name         string   `yaml:"name"          json:"name"`
	Kind         string   `yaml:"type"          json:"type"`
	Model        string   `yaml:"model"         json:"model"`
	Endpoint     string   `yaml:"endpoint"      json:"endpoint,omitempty"`
	TimeoutMs    int      `yaml:"timeout_ms"    json:"timeout_ms"`
	MaxRetries   int      `yaml:"max_retries"   json:"max_retries"`
	Priority     int      `yaml:"priority"      json:"priority"`
	Features     []string `yaml:"features"      json:"features,omitempty"`
	CostPerToken float64  `yaml:"cost_per_token" json:"cost_per_token,omitempty"`
}

// Timeout returns the per-request timeout, defaulting to 30s.
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return defaultProviderTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DisplayName returns Name, or ID when no name is configured.
func (c ProviderConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ProviderState is the mutable runtime state of a provider.
type ProviderState struct {
	Status     Status    `json:"status"`
	Available  bool      `json:"available"`
	LastTested time.Time `json:"last_tested"`
	LastUsed   time.Time `json:"last_used"`
	UsageCount int64     `json:"usage_count"`
	LastError  string    `json:"last_error,omitempty"`
}

// Provider is a point-in-time view of a registered provider.
type Provider struct {
	Config  ProviderConfig
	State   ProviderState
	Backend Backend
}

// ID returns the provider identifier.
func (p Provider) ID() string {
	return p.Config.ID
}

// IsSynthetic reports whether this is the always-available fallback provider.
func (p Provider) IsSynthetic() bool {
	return p.Config.Kind == KindMock
}

// Eligible reports whether the provider may be selected.
func (p Provider) Eligible() bool {
	return p.State.Available && p.State.Status == StatusConnected
}
