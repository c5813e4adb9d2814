// Package health probes providers in the background and turns probe
// outcomes into registry status transitions.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/observability"
)

const probeMessage = "ping"

// Config holds monitor settings.
type Config struct {
	Interval      time.Duration `env:"HEALTH_INTERVAL"      envDefault:"2m"`
	ProbeTimeout  time.Duration `env:"HEALTH_PROBE_TIMEOUT" envDefault:"5s"`
	StatsInterval time.Duration `env:"STATS_INTERVAL"       envDefault:"5m"`
}

// Cleaner prunes idle state on the statistics tick.
type Cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStats enables the statistics tick and rotation counting.
func WithStats(stats domain.StatsRecorder) Option {
	return func(m *Monitor) {
		m.stats = stats
	}
}

// WithEvents publishes recovery and degradation events.
func WithEvents(events domain.EventPublisher) Option {
	return func(m *Monitor) {
		m.events = events
	}
}

// WithCleaner runs Cleanup on every statistics tick.
func WithCleaner(cleaner Cleaner) Option {
	return func(m *Monitor) {
		m.cleaner = cleaner
	}
}

// Monitor implements domain.HealthMonitor.
type Monitor struct {
	cfg         Config
	registry    domain.ProviderRegistry
	credentials domain.CredentialPool
	stats       domain.StatsRecorder
	events      domain.EventPublisher
	cleaner     Cleaner

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	cron    *cron.Cron
	wg      sync.WaitGroup
}

// NewMonitor creates a new health monitor.
func NewMonitor(
	cfg Config,
	registry domain.ProviderRegistry,
	credentials domain.CredentialPool,
	opts ...Option,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 5 * time.Minute
	}

	m := &Monitor{
		cfg:         cfg,
		registry:    registry,
		credentials: credentials,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the probe loop and the statistics job. A second call is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", m.cfg.StatsInterval), func() {
		m.StatsTick(loopCtx)
	}); err != nil {
		observability.FromContext(ctx).Error("failed to schedule statistics job", observability.Error(err))
	}
	scheduler.Start()

	m.mu.Lock()
	m.cancel = cancel
	m.cron = scheduler
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(loopCtx)

	observability.FromContext(ctx).Info("health monitor started",
		observability.Duration("interval", m.cfg.Interval),
		observability.Duration("stats_interval", m.cfg.StatsInterval))
}

// Stop halts the background loops and waits for them to finish.
func (m *Monitor) Stop() {
	if !m.running.Load() {
		return
	}

	m.mu.Lock()
	cancel := m.cancel
	scheduler := m.cron
	m.cancel = nil
	m.cron = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	m.wg.Wait()
	m.running.Store(false)
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce probes every available non-synthetic provider sequentially.
func (m *Monitor) RunOnce(ctx context.Context) {
	for _, p := range m.registry.List(ctx) {
		if ctx.Err() != nil {
			return
		}
		if p.IsSynthetic() || !p.State.Available {
			continue
		}
		m.check(ctx, p)
	}
}

// check never fails: every probe outcome becomes a status transition.
func (m *Monitor) check(ctx context.Context, p domain.Provider) {
	logger := observability.FromContext(ctx).With(observability.String("provider_id", p.ID()))

	err := m.probe(ctx, p)
	if err == nil {
		m.markConnected(ctx, logger, p)
		return
	}

	logger.Warn("health probe failed", observability.Error(err))
	m.setStatus(ctx, logger, p.ID(), domain.StatusUnhealthy, err.Error())

	kind := p.Config.Kind
	if m.credentials == nil || !m.credentials.Has(kind) {
		m.publish(ctx, domain.EventProviderDegraded, p.ID(), domain.StatusUnhealthy, err)
		return
	}

	final, finalErr := m.recover(ctx, p)
	if final == domain.StatusConnected {
		logger.Info("provider recovered after credential rotation")
		m.setStatus(ctx, logger, p.ID(), domain.StatusConnected, "")
		m.publish(ctx, domain.EventProviderRecovered, p.ID(), domain.StatusConnected, nil)
		return
	}

	logger.Error("provider failed after credential rotation", observability.Error(finalErr))
	m.setStatus(ctx, logger, p.ID(), domain.StatusFailed, finalErr.Error())
	m.publish(ctx, domain.EventProviderDegraded, p.ID(), domain.StatusFailed, finalErr)
}

// recover rotates the kind's credential once and re-probes.
func (m *Monitor) recover(ctx context.Context, p domain.Provider) (domain.Status, error) {
	kind := p.Config.Kind

	credential, err := m.credentials.Rotate(ctx, kind)
	if err != nil {
		return domain.StatusFailed, fmt.Errorf("failed to rotate credential: %w", err)
	}
	if m.stats != nil {
		m.stats.RecordRotation(kind)
	}

	if err = m.registry.Reinitialize(ctx, p.ID(), credential); err != nil {
		return domain.StatusFailed, err
	}

	if err = m.probe(ctx, p); err != nil {
		return domain.StatusFailed, err
	}
	return domain.StatusConnected, nil
}

func (m *Monitor) markConnected(ctx context.Context, logger *zap.Logger, p domain.Provider) {
	previous := p.State.Status
	if previous == domain.StatusConnected {
		return
	}

	m.setStatus(ctx, logger, p.ID(), domain.StatusConnected, "")
	if previous == domain.StatusUnknown {
		logger.Info("provider connected")
		return
	}

	logger.Info("provider recovered", observability.String("previous_status", string(previous)))
	m.publish(ctx, domain.EventProviderRecovered, p.ID(), domain.StatusConnected, nil)
}

func (m *Monitor) probe(ctx context.Context, p domain.Provider) error {
	probeCtx, cancel := context.WithTimeout(observability.WithProvider(ctx, p.ID()), m.cfg.ProbeTimeout)
	defer cancel()

	resp, err := p.Backend.GenerateCompletion(probeCtx, &domain.CompletionRequest{
		Provider:  p.ID(),
		Model:     p.Config.Model,
		Messages:  []domain.Message{{Role: "user", Content: probeMessage}},
		MaxTokens: 1,
	})
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("provider %s returned an empty probe response", p.ID())
	}
	return nil
}

func (m *Monitor) setStatus(ctx context.Context, logger *zap.Logger, id string, status domain.Status, detail string) {
	if err := m.registry.SetStatus(ctx, id, status, detail); err != nil {
		logger.Error("failed to update provider status", observability.Error(err))
	}
}

func (m *Monitor) publish(ctx context.Context, eventType, id string, status domain.Status, err error) {
	if m.events == nil {
		return
	}

	data := map[string]interface{}{
		"provider_id": id,
		"status":      string(status),
	}
	if err != nil {
		data["error"] = err.Error()
		data["error_kind"] = string(domain.Classify(err))
	}
	m.events.Publish(ctx, eventType, data)
}

// StatsTick logs aggregate counters and prunes idle limiter windows.
func (m *Monitor) StatsTick(ctx context.Context) {
	logger := observability.FromContext(ctx)

	if m.stats != nil {
		snap := m.stats.Snapshot()

		var cacheHitRate float64
		if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 {
			cacheHitRate = float64(snap.CacheHits) / float64(lookups)
		}

		logger.Info("gateway statistics",
			observability.Int64("requests", snap.Requests),
			observability.Float64("success_rate", snap.SuccessRate),
			observability.Int64("fallbacks", snap.Fallbacks),
			observability.Int64("rotations", snap.Rotations),
			observability.Int64("rate_limited", snap.RateLimited),
			observability.Float64("avg_response_ms", snap.AvgResponseMs),
			observability.Float64("cache_hit_rate", cacheHitRate))
	}

	if m.cleaner != nil {
		removed, err := m.cleaner.Cleanup(ctx)
		if err != nil {
			logger.Warn("rate limiter cleanup failed", observability.Error(err))
			return
		}
		if removed > 0 {
			logger.Debug("rate limiter windows pruned", observability.Int("removed", removed))
		}
	}
}
