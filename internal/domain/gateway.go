package domain

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davidbz/switchboard/internal/observability"
)

const (
	defaultRateLimitScope = "chat"
	defaultCacheTTL       = 5 * time.Minute
	anonymousClient       = "anonymous"
)

// GatewaySettings tunes the request pipeline.
type GatewaySettings struct {
	RateLimitScope string
	CacheTTL       time.Duration
	CachePrefetch  bool
}

// GatewayDeps groups the collaborators of the gateway service.
type GatewayDeps struct {
	Registry       ProviderRegistry
	Credentials    CredentialPool
	Router         Router
	Limiter        RateLimiter
	Cache          ResponseCache
	Monitor        HealthMonitor
	Stats          StatsRecorder
	CostCalculator CostCalculator
	Events         EventPublisher
	Settings       GatewaySettings
}

// ProviderStatus is the status view of a single provider.
type ProviderStatus struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"type"`
	Model      string    `json:"model"`
	Priority   int       `json:"priority"`
	Features   []string  `json:"features,omitempty"`
	Status     Status    `json:"status"`
	Available  bool      `json:"available"`
	Synthetic  bool      `json:"synthetic"`
	LastTested time.Time `json:"last_tested"`
	LastUsed   time.Time `json:"last_used"`
	UsageCount int64     `json:"usage_count"`
	LastError  string    `json:"last_error,omitempty"`
}

// GatewayStatus is the snapshot returned by GatewayService.Status.
type GatewayStatus struct {
	Initialized     bool                      `json:"initialized"`
	CurrentProvider string                    `json:"current_provider"`
	ActiveProviders int                       `json:"active_providers"`
	TotalProviders  int                       `json:"total_providers"`
	FallbackOrder   []string                  `json:"fallback_order"`
	Providers       map[string]ProviderStatus `json:"providers"`
	Statistics      StatsSnapshot             `json:"statistics"`
	KeyPool         map[string]KeyPoolStatus  `json:"key_pool"`
	Cache           CacheStats                `json:"cache"`
}

// GatewayService is the entry point for callers: admission, cache, routing.
type GatewayService struct {
	deps        GatewayDeps
	initialized atomic.Bool
}

// NewGatewayService creates a new gateway service (DI constructor).
func NewGatewayService(deps GatewayDeps) *GatewayService {
	if deps.Settings.RateLimitScope == "" {
		deps.Settings.RateLimitScope = defaultRateLimitScope
	}
	if deps.Settings.CacheTTL <= 0 {
		deps.Settings.CacheTTL = defaultCacheTTL
	}
	return &GatewayService{deps: deps}
}

// Init initializes every registered backend, runs the first health pass and
// starts the background monitor.
func (g *GatewayService) Init(ctx context.Context) error {
	if g.deps.Registry == nil || g.deps.Router == nil {
		return fmt.Errorf("%w: registry and router are required", ErrConfiguration)
	}

	logger := observability.FromContext(ctx)

	for _, p := range g.deps.Registry.List(ctx) {
		if p.IsSynthetic() {
			if err := g.deps.Registry.Reinitialize(ctx, p.ID(), ""); err != nil {
				return fmt.Errorf("%w: %w", ErrSyntheticUnavailable, err)
			}
			_ = g.deps.Registry.SetStatus(ctx, p.ID(), StatusConnected, "")
			continue
		}

		credential := ""
		if g.deps.Credentials != nil && g.deps.Credentials.Has(p.Config.Kind) {
			current, err := g.deps.Credentials.Current(ctx, p.Config.Kind)
			if err != nil {
				logger.Warn("failed to read credential",
					observability.String("provider_id", p.ID()),
					observability.Error(err))
			}
			credential = current
		}

		if err := g.deps.Registry.Reinitialize(ctx, p.ID(), credential); err != nil {
			logger.Warn("provider initialization failed",
				observability.String("provider_id", p.ID()),
				observability.Error(err))
			continue
		}

		logger.Info("provider initialized",
			observability.String("provider_id", p.ID()),
			observability.String("type", p.Config.Kind))
	}

	if g.deps.Monitor != nil {
		g.deps.Monitor.RunOnce(ctx)
		g.deps.Monitor.Start(ctx)
	}

	g.initialized.Store(true)

	best, ok := g.deps.Registry.BestAvailable(ctx)
	if ok {
		logger.Info("gateway initialized",
			observability.String("current_provider", best.ID()),
			observability.Strings("fallback_order", g.deps.Registry.FallbackOrder(ctx)))
	}

	return nil
}

// Shutdown stops background work.
func (g *GatewayService) Shutdown(_ context.Context) error {
	g.initialized.Store(false)

	if g.deps.Monitor != nil {
		g.deps.Monitor.Stop()
	}
	if g.deps.Cache != nil {
		return g.deps.Cache.Close()
	}
	return nil
}

// Send admits, serves from cache or routes a caller request.
func (g *GatewayService) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Message) == "" && len(req.History) == 0 {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrInvalidRequest)
	}
	if !g.initialized.Load() {
		return nil, ErrNotInitialized
	}

	logger := observability.FromContext(ctx)
	start := time.Now()

	if err := g.admit(ctx, req); err != nil {
		return nil, err
	}

	completionReq := req.ToCompletionRequest()
	key := Fingerprint(completionReq)

	if g.deps.Cache != nil && !req.SkipCache {
		cached, hit := g.deps.Cache.Get(ctx, key)
		g.recordCacheLookup(hit)
		if hit {
			logger.Debug("cache hit", observability.String("key", key))
			g.recordRequest(true, false)
			return &SendResult{
				Response:     cached.Content,
				Provider:     cached.Provider,
				Model:        cached.Model,
				ResponseTime: time.Since(start),
				Attempt:      0,
				Usage:        cached.Usage,
				Cached:       true,
			}, nil
		}
	}

	routed, err := g.deps.Router.Send(ctx, completionReq)
	if err != nil {
		g.recordRequest(false, false)
		return nil, err
	}

	response := routed.Response
	g.price(ctx, routed.ProviderID, response)

	g.recordRequest(true, routed.Fallback)

	result := &SendResult{
		Response:     response.Content,
		Provider:     routed.ProviderID,
		Model:        response.Model,
		ResponseTime: time.Since(start),
		Attempt:      routed.Attempt,
		Usage:        response.Usage,
		Fallback:     routed.Fallback,
	}
	if routed.OriginalError != nil {
		result.OriginalError = routed.OriginalError.Error()
	}

	if routed.Fallback && g.deps.Events != nil {
		g.deps.Events.Publish(ctx, EventFallbackUsed, map[string]interface{}{
			"provider_id": routed.ProviderID,
			"attempt":     routed.Attempt,
		})
	}

	if g.deps.Cache != nil && !req.SkipCache && !routed.Fallback {
		g.store(ctx, key, completionReq, response, req.CachePriority)
	}

	return result, nil
}

// Status returns a snapshot of the gateway.
func (g *GatewayService) Status(ctx context.Context) GatewayStatus {
	status := GatewayStatus{
		Initialized: g.initialized.Load(),
		Providers:   make(map[string]ProviderStatus),
		KeyPool:     map[string]KeyPoolStatus{},
	}

	if g.deps.Registry != nil {
		providers := g.deps.Registry.List(ctx)
		status.TotalProviders = len(providers)
		for _, p := range providers {
			if p.Eligible() && !p.IsSynthetic() {
				status.ActiveProviders++
			}
			status.Providers[p.ID()] = ProviderStatus{
				ID:         p.ID(),
				Name:       p.Config.DisplayName(),
				Kind:       p.Config.Kind,
				Model:      p.Config.Model,
				Priority:   p.Config.Priority,
				Features:   p.Config.Features,
				Status:     p.State.Status,
				Available:  p.State.Available,
				Synthetic:  p.IsSynthetic(),
				LastTested: p.State.LastTested,
				LastUsed:   p.State.LastUsed,
				UsageCount: p.State.UsageCount,
				LastError:  p.State.LastError,
			}
		}
		if best, ok := g.deps.Registry.BestAvailable(ctx); ok {
			status.CurrentProvider = best.ID()
		}
		status.FallbackOrder = g.deps.Registry.FallbackOrder(ctx)
	}

	if g.deps.Stats != nil {
		status.Statistics = g.deps.Stats.Snapshot()
	}
	if g.deps.Credentials != nil {
		status.KeyPool = g.deps.Credentials.Snapshot(ctx)
	}
	if g.deps.Cache != nil {
		status.Cache = g.deps.Cache.Stats()
	}

	return status
}

func (g *GatewayService) admit(ctx context.Context, req *SendRequest) error {
	if g.deps.Limiter == nil {
		return nil
	}

	identifier := req.ClientID
	if identifier == "" {
		identifier = anonymousClient
	}
	scope := g.deps.Settings.RateLimitScope

	decision, err := g.deps.Limiter.Admit(ctx, scope, identifier)
	if err != nil {
		// Fail open on store errors.
		observability.FromContext(ctx).Warn("rate limiter unavailable, admitting request",
			observability.String("scope", scope),
			observability.Error(err))
		return nil
	}
	if decision.Allowed {
		return nil
	}

	if g.deps.Stats != nil {
		g.deps.Stats.RecordRateLimited(scope)
	}
	return &RateLimitedError{
		Scope:      scope,
		Identifier: identifier,
		RetryAfter: decision.RetryAfter,
	}
}

func (g *GatewayService) store(
	ctx context.Context,
	key string,
	req *CompletionRequest,
	response *CompletionResponse,
	priority int,
) {
	opts := CacheOptions{
		Priority: priority,
		Prefetch: g.deps.Settings.CachePrefetch,
	}
	if opts.Prefetch {
		opts.PrefetchFunc = func(prefetchCtx context.Context) (*CompletionResponse, error) {
			routed, err := g.deps.Router.Send(prefetchCtx, req)
			if err != nil {
				return nil, err
			}
			if routed.Fallback {
				return nil, fmt.Errorf("prefetch served by fallback provider %s", routed.ProviderID)
			}
			g.price(prefetchCtx, routed.ProviderID, routed.Response)
			return routed.Response, nil
		}
	}

	if err := g.deps.Cache.Set(ctx, key, response, g.deps.Settings.CacheTTL, opts); err != nil {
		observability.FromContext(ctx).Warn("failed to store in cache", observability.Error(err))
	}
}

// price stamps the response usage with the provider's cost.
func (g *GatewayService) price(ctx context.Context, providerID string, response *CompletionResponse) {
	if g.deps.CostCalculator == nil {
		return
	}
	cost, err := g.deps.CostCalculator.Calculate(ctx, providerID, response.Usage)
	if err != nil {
		observability.FromContext(ctx).Warn("cost calculation failed",
			observability.String("provider_id", providerID),
			observability.Error(err))
	}
	response.Usage.Cost = cost
}

func (g *GatewayService) recordCacheLookup(hit bool) {
	if g.deps.Stats != nil {
		g.deps.Stats.RecordCacheLookup(hit)
	}
}

func (g *GatewayService) recordRequest(success, fallback bool) {
	if g.deps.Stats != nil {
		g.deps.Stats.RecordRequest(success, fallback)
	}
}
