package routing_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/switchboard/internal/credential"
	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/provider/registry"
	"github.com/davidbz/switchboard/internal/routing"
	"github.com/davidbz/switchboard/internal/stats"
)

var errUnauthorized = domain.NewBackendError("test", http.StatusUnauthorized, "invalid api key", nil)

var errUpstream = domain.NewBackendError("test", http.StatusBadGateway, "bad gateway", nil)

// scriptedBackend fails according to a per-call script and records credentials.
type scriptedBackend struct {
	id string

	mu          sync.Mutex
	credential  string
	script      []error
	fallbackErr error
	block       bool
	calls       int
	seen        []string
}

func (b *scriptedBackend) Initialize(_ context.Context, credential string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credential = credential
	return nil
}

func (b *scriptedBackend) IsAvailable() bool { return true }

func (b *scriptedBackend) GenerateCompletion(
	ctx context.Context,
	_ *domain.CompletionRequest,
) (*domain.CompletionResponse, error) {
	b.mu.Lock()
	call := b.calls
	b.calls++
	b.seen = append(b.seen, b.credential)
	err := b.fallbackErr
	if call < len(b.script) {
		err = b.script[call]
	}
	block := b.block
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &domain.CompletionResponse{ID: b.id, Content: "reply from " + b.id}, nil
}

func (b *scriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *scriptedBackend) Seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seen...)
}

type env struct {
	registry *registry.Registry
	pool     *credential.Pool
	stats    *stats.Tracker
	backends map[string]*scriptedBackend
}

type providerDef struct {
	id        string
	kind      string
	priority  int
	timeoutMs int
}

func newEnv(t *testing.T, keys []string, defs ...providerDef) *env {
	t.Helper()
	ctx := context.Background()

	pool, err := credential.NewPool(nil, map[string][]string{domain.KindOpenAI: keys})
	require.NoError(t, err)

	e := &env{
		registry: registry.NewRegistry(),
		pool:     pool,
		stats:    stats.NewTracker(),
		backends: make(map[string]*scriptedBackend),
	}

	defs = append(defs, providerDef{id: "mock", kind: domain.KindMock, priority: 100})
	for _, def := range defs {
		backend := &scriptedBackend{id: def.id}
		e.backends[def.id] = backend
		require.NoError(t, e.registry.Register(ctx, domain.ProviderConfig{
			ID:        def.id,
			Kind:      def.kind,
			Priority:  def.priority,
			TimeoutMs: def.timeoutMs,
		}, backend))

		cred := ""
		if def.kind == domain.KindOpenAI {
			cred, err = pool.Current(ctx, def.kind)
			require.NoError(t, err)
		}
		require.NoError(t, e.registry.Reinitialize(ctx, def.id, cred))
		require.NoError(t, e.registry.SetStatus(ctx, def.id, domain.StatusConnected, ""))
	}

	return e
}

func (e *env) router(opts ...routing.Option) *routing.FailoverRouter {
	opts = append([]routing.Option{routing.WithStats(e.stats)}, opts...)
	return routing.NewFailoverRouter(e.registry, e.pool, opts...)
}

func openaiDef(id string, priority int) providerDef {
	return providerDef{id: id, kind: domain.KindOpenAI, priority: priority}
}

func request() *domain.CompletionRequest {
	return &domain.CompletionRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}}
}

func TestFailoverRouter_Send(t *testing.T) {
	t.Run("should serve from the best available provider", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1), openaiDef("b", 2))

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "a", result.ProviderID)
		require.Equal(t, 1, result.Attempt)
		require.False(t, result.Fallback)
		require.NoError(t, result.OriginalError)
		require.Equal(t, 0, e.backends["b"].Calls())

		p, _ := e.registry.Get(context.Background(), "a")
		require.Equal(t, int64(1), p.State.UsageCount)
	})

	t.Run("should bound attempts before the synthetic fallback", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1), openaiDef("b", 2), openaiDef("c", 3))
		for _, id := range []string{"a", "b", "c"} {
			e.backends[id].fallbackErr = errUpstream
		}

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.True(t, result.Fallback)
		require.Equal(t, "mock", result.ProviderID)
		require.ErrorIs(t, result.OriginalError, errUpstream)
		require.Equal(t, 1, e.backends["a"].Calls())
		require.Equal(t, 1, e.backends["b"].Calls())
		require.Equal(t, 1, e.backends["c"].Calls())
		require.Equal(t, 1, e.backends["mock"].Calls())
		require.Equal(t, int64(4), e.stats.Snapshot().Attempts)

		health := e.stats.HealthSnapshot()
		require.Equal(t, 3, health.Samples)
		require.InDelta(t, 1.0, health.ErrorRate, 1e-9)
	})

	t.Run("should rotate once and retry the same provider on auth failure", func(t *testing.T) {
		e := newEnv(t, []string{"k0", "k1"}, openaiDef("a", 1), openaiDef("b", 2))
		e.backends["a"].script = []error{errUnauthorized}

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "a", result.ProviderID)
		require.Equal(t, 2, result.Attempt)
		require.True(t, result.Fallback)
		require.Equal(t, []string{"k0", "k1"}, e.backends["a"].Seen())
		require.Equal(t, 0, e.backends["b"].Calls())
		require.Equal(t, int64(1), e.pool.Snapshot(context.Background())[domain.KindOpenAI].Rotations)
	})

	t.Run("should advance once untried credentials are exhausted", func(t *testing.T) {
		e := newEnv(t, []string{"k0", "k1"}, openaiDef("a", 1), providerDef{id: "b", kind: "local", priority: 2})
		e.backends["a"].fallbackErr = errUnauthorized

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "b", result.ProviderID)
		require.Equal(t, 3, result.Attempt)
		require.Equal(t, []string{"k0", "k1"}, e.backends["a"].Seen())
		require.ErrorIs(t, result.OriginalError, errUnauthorized)
	})

	t.Run("should rotate a single-key pool at most once", func(t *testing.T) {
		e := newEnv(t, []string{"only"}, openaiDef("a", 1), providerDef{id: "b", kind: "local", priority: 2})
		e.backends["a"].fallbackErr = errUnauthorized

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "b", result.ProviderID)
		require.Equal(t, 2, e.backends["a"].Calls())
	})

	t.Run("should advance without rotating on rate limit errors", func(t *testing.T) {
		e := newEnv(t, []string{"k0", "k1"}, openaiDef("a", 1), openaiDef("b", 2))
		e.backends["a"].fallbackErr = domain.NewBackendError("a", http.StatusTooManyRequests, "slow down", nil)

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "b", result.ProviderID)
		require.Equal(t, 2, result.Attempt)
		require.True(t, result.Fallback)
		require.Equal(t, int64(0), e.pool.Snapshot(context.Background())[domain.KindOpenAI].Rotations)
	})

	t.Run("should skip ineligible providers when advancing", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1), openaiDef("b", 2), openaiDef("c", 3))
		e.backends["a"].fallbackErr = errUpstream
		require.NoError(t, e.registry.SetStatus(context.Background(), "b", domain.StatusFailed, "down"))

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "c", result.ProviderID)
		require.Equal(t, 0, e.backends["b"].Calls())
	})

	t.Run("should honour a pinned provider", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1), openaiDef("b", 2))
		req := request()
		req.Provider = "b"

		result, err := e.router().Send(context.Background(), req)

		require.NoError(t, err)
		require.Equal(t, "b", result.ProviderID)
		require.False(t, result.Fallback)
	})

	t.Run("should treat an unknown pinned provider as a failed attempt", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1))
		req := request()
		req.Provider = "missing"

		result, err := e.router().Send(context.Background(), req)

		require.NoError(t, err)
		require.Equal(t, "a", result.ProviderID)
		require.Equal(t, 2, result.Attempt)
		require.ErrorIs(t, result.OriginalError, domain.ErrProviderNotFound)
	})

	t.Run("should flag synthetic service of an unpinned request", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1))
		require.NoError(t, e.registry.SetAvailable(context.Background(), "a", false))

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "mock", result.ProviderID)
		require.Equal(t, 1, result.Attempt)
		require.True(t, result.Fallback)
	})

	t.Run("should treat attempt timeouts as transient", func(t *testing.T) {
		e := newEnv(t, []string{"k0"},
			providerDef{id: "a", kind: domain.KindOpenAI, priority: 1, timeoutMs: 20},
			openaiDef("b", 2))
		e.backends["a"].block = true

		result, err := e.router().Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "b", result.ProviderID)
		require.ErrorIs(t, result.OriginalError, context.DeadlineExceeded)
	})

	t.Run("should stop when the caller cancels", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.router().Send(ctx, request())

		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 0, e.backends["a"].Calls())
	})

	t.Run("should return synthetic unavailable when the last resort fails", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1))
		e.backends["a"].fallbackErr = errUpstream
		e.backends["mock"].fallbackErr = errors.New("mock broken")

		_, err := e.router(routing.WithMaxAttempts(1)).Send(context.Background(), request())

		require.ErrorIs(t, err, domain.ErrSyntheticUnavailable)
	})

	t.Run("should respect a custom attempt ceiling", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1), openaiDef("b", 2), openaiDef("c", 3))
		for _, id := range []string{"a", "b", "c"} {
			e.backends[id].fallbackErr = errUpstream
		}

		result, err := e.router(routing.WithMaxAttempts(2)).Send(context.Background(), request())

		require.NoError(t, err)
		require.Equal(t, "mock", result.ProviderID)
		require.Equal(t, 3, result.Attempt)
		require.Equal(t, 0, e.backends["c"].Calls())
	})

	t.Run("should reject nil request", func(t *testing.T) {
		e := newEnv(t, []string{"k0"}, openaiDef("a", 1))

		_, err := e.router().Send(context.Background(), nil)

		require.Error(t, err)
	})
}
