package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/switchboard/internal/cache"
	"github.com/davidbz/switchboard/internal/config"
	"github.com/davidbz/switchboard/internal/credential"
	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/health"
	apihttp "github.com/davidbz/switchboard/internal/http"
	"github.com/davidbz/switchboard/internal/http/middleware"
	"github.com/davidbz/switchboard/internal/observability"
	"github.com/davidbz/switchboard/internal/provider"
	"github.com/davidbz/switchboard/internal/provider/registry"
	"github.com/davidbz/switchboard/internal/ratelimit"
	"github.com/davidbz/switchboard/internal/routing"
	"github.com/davidbz/switchboard/internal/stats"
)

const (
	shutdownTimeout  = 15 * time.Second
	redisPingTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := buildContainer()

	err := container.Invoke(func(
		gateway *domain.GatewayService,
		server *apihttp.Server,
		client redis.UniversalClient,
	) error {
		return run(ctx, gateway, server, client)
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func run(
	ctx context.Context,
	gateway *domain.GatewayService,
	server *apihttp.Server,
	client redis.UniversalClient,
) error {
	logger := observability.FromContext(ctx)

	if err := gateway.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", observability.Error(err))
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", observability.Error(err))
	}
	if client != nil {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", observability.Error(err))
		}
	}

	_ = logger.Sync()
	return runErr
}

func buildContainer() *dig.Container {
	container := dig.New()

	providers := []struct {
		name        string
		constructor interface{}
	}{
		// Configuration
		{"config", config.Load},
		{"config dependencies", config.ParseDependenciesConfig},
		{"provider table", config.LoadProviders},

		// Observability
		{"logger", observability.InitLogger},
		{"event publisher", func(logger *zap.Logger) domain.EventPublisher {
			return observability.NewEventBus(logger)
		}},
		{"stats tracker", func() *stats.Tracker { return stats.NewTracker() }},
		{"stats recorder", func(tracker *stats.Tracker) domain.StatsRecorder { return tracker }},

		// Shared state
		{"redis client", provideRedis},
		{"credential store", provideCredentialStore},
		{"window store", provideWindowStore},

		// Providers
		{"credential pool", provideCredentialPool},
		{"provider registry", provideRegistry},
		{"cost calculator", provideCostCalculator},

		// Request pipeline
		{"router", provideRouter},
		{"rate limiter", provideLimiter},
		{"response cache", func(cfg *cache.Config) domain.ResponseCache { return cache.New(*cfg) }},
		{"health monitor", provideMonitor},
		{"gateway dependencies", provideGatewayDeps},
		{"gateway service", domain.NewGatewayService},

		// HTTP Layer
		{"HTTP gateway", func(gateway *domain.GatewayService) apihttp.Gateway { return gateway }},
		{"HTTP handler", apihttp.NewHandler},
		{"HTTP middleware", middleware.BuildMiddlewareChain},
		{"HTTP server", apihttp.NewServer},
	}

	for _, p := range providers {
		if err := container.Provide(p.constructor); err != nil {
			log.Fatalf("Failed to provide %s: %v", p.name, err)
		}
	}

	return container
}

// provideRedis returns nil when shared state is kept in memory.
func provideRedis(state *config.StateConfig) (redis.UniversalClient, error) {
	switch state.Backend {
	case config.StateMemory, "":
		return nil, nil //nolint:nilnil // no client for in-memory state
	case config.StateRedis:
	default:
		return nil, fmt.Errorf("%w: unknown STATE_BACKEND %q", domain.ErrConfiguration, state.Backend)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{state.RedisAddr},
		Password: state.RedisPassword,
		DB:       state.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", state.RedisAddr, err)
	}

	return client, nil
}

func provideCredentialStore(client redis.UniversalClient) credential.Store {
	if client == nil {
		return credential.NewMemoryStore()
	}
	return credential.NewRedisStore(client)
}

func provideWindowStore(client redis.UniversalClient) ratelimit.Store {
	if client == nil {
		return ratelimit.NewMemoryStore()
	}
	return ratelimit.NewRedisStore(client)
}

func provideCredentialPool(
	store credential.Store,
	table *config.ProviderTable,
	events domain.EventPublisher,
) (domain.CredentialPool, error) {
	pool, err := credential.NewPool(store, table.Credentials, credential.WithEvents(events))
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func provideRegistry(table *config.ProviderTable, pool domain.CredentialPool) (domain.ProviderRegistry, error) {
	reg := registry.NewRegistry()
	if err := provider.NewFactory().RegisterAll(context.Background(), reg, table.Providers, pool); err != nil {
		return nil, err
	}
	return reg, nil
}

func provideCostCalculator(table *config.ProviderTable) (domain.CostCalculator, error) {
	pricing, err := domain.NewPricingRegistryFromProviders(table.Providers)
	if err != nil {
		return nil, err
	}
	return domain.NewTokenCostCalculator(pricing), nil
}

func provideRouter(
	reg domain.ProviderRegistry,
	pool domain.CredentialPool,
	gateway *config.GatewayConfig,
	recorder domain.StatsRecorder,
) domain.Router {
	return routing.NewFailoverRouter(reg, pool,
		routing.WithMaxAttempts(gateway.MaxAttempts),
		routing.WithStats(recorder))
}

func provideLimiter(
	store ratelimit.Store,
	tracker *stats.Tracker,
	cfg *config.RateLimitConfig,
) (*ratelimit.Limiter, error) {
	return ratelimit.NewLimiter(store, tracker, cfg.Scopes(), ratelimit.WithThresholds(cfg.Thresholds()))
}

func provideMonitor(
	cfg *health.Config,
	reg domain.ProviderRegistry,
	pool domain.CredentialPool,
	recorder domain.StatsRecorder,
	events domain.EventPublisher,
	limiter *ratelimit.Limiter,
) domain.HealthMonitor {
	return health.NewMonitor(*cfg, reg, pool,
		health.WithStats(recorder),
		health.WithEvents(events),
		health.WithCleaner(limiter))
}

type gatewayParams struct {
	dig.In

	Registry       domain.ProviderRegistry
	Credentials    domain.CredentialPool
	Router         domain.Router
	Limiter        *ratelimit.Limiter
	Cache          domain.ResponseCache
	Monitor        domain.HealthMonitor
	Stats          domain.StatsRecorder
	CostCalculator domain.CostCalculator
	Events         domain.EventPublisher
	Gateway        *config.GatewayConfig
	RateLimit      *config.RateLimitConfig
}

func provideGatewayDeps(p gatewayParams) domain.GatewayDeps {
	return domain.GatewayDeps{
		Registry:       p.Registry,
		Credentials:    p.Credentials,
		Router:         p.Router,
		Limiter:        p.Limiter,
		Cache:          p.Cache,
		Monitor:        p.Monitor,
		Stats:          p.Stats,
		CostCalculator: p.CostCalculator,
		Events:         p.Events,
		Settings:       p.Gateway.Settings(p.RateLimit.Scope),
	}
}

