package domain

import (
	"context"
	"time"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// CompletionRequest is what a backend receives.
type CompletionRequest struct {
	// Provider pins the request to a provider id. Empty means best available.
	Provider    string            `json:"provider,omitempty"`
	Model       string            `json:"model,omitempty"`
	Messages    []Message         `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CompletionResponse is what a backend returns.
type CompletionResponse struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Provider   string    `json:"provider"`
	Content    string    `json:"content"`
	Usage      Usage     `json:"usage"`
	FinishTime time.Time `json:"finish_time"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// SendRequest is the caller-facing request accepted by the gateway.
type SendRequest struct {
	Message     string    `json:"message"`
	History     []Message `json:"history,omitempty"`
	System      string    `json:"system,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`

	// ClientID identifies the caller for rate limiting.
	ClientID      string `json:"client_id,omitempty"`
	SkipCache     bool   `json:"skip_cache,omitempty"`
	CachePriority int    `json:"cache_priority,omitempty"`
}

// ToCompletionRequest builds the backend request: system prompt, history, then the message.
func (r *SendRequest) ToCompletionRequest() *CompletionRequest {
	messages := make([]Message, 0, len(r.History)+2)
	if r.System != "" {
		messages = append(messages, Message{Role: "system", Content: r.System})
	}
	messages = append(messages, r.History...)
	if r.Message != "" {
		messages = append(messages, Message{Role: "user", Content: r.Message})
	}

	return &CompletionRequest{
		Provider:    r.Provider,
		Model:       r.Model,
		Messages:    messages,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		Metadata:    nil,
	}
}

// SendResult is returned to the caller of GatewayService.Send.
type SendResult struct {
	Response     string        `json:"response"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	ResponseTime time.Duration `json:"response_time"`
	Attempt      int           `json:"attempt"`
	Usage        Usage         `json:"usage"`
	// Fallback signals that a degraded backend served the request.
	Fallback      bool   `json:"fallback,omitempty"`
	OriginalError string `json:"original_error,omitempty"`
	Cached        bool   `json:"cached,omitempty"`
}

// RouteResult is produced by a Router for one request.
type RouteResult struct {
	Response      *CompletionResponse
	ProviderID    string
	Attempt       int
	Fallback      bool
	OriginalError error
}

// AttemptRecord describes one backend invocation. Used only for statistics.
type AttemptRecord struct {
	ProviderID string        `json:"provider_id"`
	Attempt    int           `json:"attempt"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	Synthetic  bool          `json:"synthetic,omitempty"`
}

// HealthSnapshot summarizes recent backend behaviour.
type HealthSnapshot struct {
	AvgResponseTime time.Duration
	ErrorRate       float64
	Samples         int
}

// StatsSnapshot holds aggregate gateway counters.
type StatsSnapshot struct {
	Requests       int64   `json:"requests"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	SuccessRate    float64 `json:"success_rate"`
	Fallbacks      int64   `json:"fallbacks"`
	Attempts       int64   `json:"attempts"`
	Rotations      int64   `json:"rotations"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	RateLimited    int64   `json:"rate_limited"`
	AvgResponseMs  float64 `json:"avg_response_ms"`
	RecentErrorPct float64 `json:"recent_error_pct"`
}

// CacheStats holds response cache counters.
type CacheStats struct {
	Entries    int     `json:"entries"`
	Bytes      int64   `json:"bytes"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Sets       int64   `json:"sets"`
	Evictions  int64   `json:"evictions"`
	Prefetches int64   `json:"prefetches"`
	HitRate    float64 `json:"hit_rate"`
}

// CacheOptions controls how a response is stored.
type CacheOptions struct {
	Priority int
	// Prefetch re-fetches the value through PrefetchFunc before it expires.
	Prefetch     bool
	PrefetchFunc func(ctx context.Context) (*CompletionResponse, error)
}

// RateDecision is the outcome of a rate limiter admission check.
type RateDecision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	Ceiling    int
}
