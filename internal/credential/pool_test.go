package credential_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/switchboard/internal/credential"
	"github.com/davidbz/switchboard/internal/domain"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) Publish(_ context.Context, eventType string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func TestNewPool(t *testing.T) {
	t.Run("should reject empty credential lists", func(t *testing.T) {
		_, err := credential.NewPool(nil, map[string][]string{"openai": {" ", ""}})

		require.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("should trim credentials and report size", func(t *testing.T) {
		pool, err := credential.NewPool(nil, map[string][]string{"openai": {" k1 ", "k2"}})

		require.NoError(t, err)
		require.True(t, pool.Has("openai"))
		require.False(t, pool.Has("anthropic"))
		require.Equal(t, 2, pool.Size("openai"))
		require.Equal(t, []string{"openai"}, pool.Kinds())

		current, err := pool.Current(context.Background(), "openai")
		require.NoError(t, err)
		require.Equal(t, "k1", current)
	})
}

func TestPool_Rotate(t *testing.T) {
	t.Run("should cycle through keys and wrap", func(t *testing.T) {
		events := &recordingEvents{}
		pool, err := credential.NewPool(credential.NewMemoryStore(),
			map[string][]string{"openai": {"k1", "k2", "k3"}},
			credential.WithEvents(events))
		require.NoError(t, err)
		ctx := context.Background()

		seen := make([]string, 0, 6)
		for i := 0; i < 6; i++ {
			key, rotateErr := pool.Rotate(ctx, "openai")
			require.NoError(t, rotateErr)
			seen = append(seen, key)
		}

		require.Equal(t, []string{"k2", "k3", "k1", "k2", "k3", "k1"}, seen)
		require.Len(t, events.events, 6)
		require.Equal(t, domain.EventCredentialRotated, events.events[0])
	})

	t.Run("should keep the same key for a single-key pool", func(t *testing.T) {
		pool, err := credential.NewPool(nil, map[string][]string{"openai": {"only"}})
		require.NoError(t, err)

		key, err := pool.Rotate(context.Background(), "openai")
		require.NoError(t, err)
		require.Equal(t, "only", key)
	})

	t.Run("should return to the start after size rotations", func(t *testing.T) {
		pool, err := credential.NewPool(nil, map[string][]string{"openai": {"a", "b", "c", "d"}})
		require.NoError(t, err)
		ctx := context.Background()

		start, err := pool.Current(ctx, "openai")
		require.NoError(t, err)
		for i := 0; i < pool.Size("openai"); i++ {
			_, err = pool.Rotate(ctx, "openai")
			require.NoError(t, err)
		}

		current, err := pool.Current(ctx, "openai")
		require.NoError(t, err)
		require.Equal(t, start, current)
	})

	t.Run("should fail for unknown kind", func(t *testing.T) {
		pool, err := credential.NewPool(nil, map[string][]string{"openai": {"k1"}})
		require.NoError(t, err)

		_, err = pool.Rotate(context.Background(), "anthropic")
		require.Error(t, err)
		_, err = pool.Current(context.Background(), "anthropic")
		require.Error(t, err)
	})

	t.Run("should advance exactly once per concurrent rotation", func(t *testing.T) {
		pool, err := credential.NewPool(nil, map[string][]string{"openai": {"k1", "k2", "k3"}})
		require.NoError(t, err)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = pool.Rotate(ctx, "openai")
			}()
		}
		wg.Wait()

		snapshot := pool.Snapshot(ctx)
		require.Equal(t, int64(30), snapshot["openai"].Rotations)
		require.Equal(t, 0, snapshot["openai"].Index)
	})
}

func TestPool_Snapshot(t *testing.T) {
	t.Run("should mask the current credential", func(t *testing.T) {
		pool, err := credential.NewPool(nil, map[string][]string{"openai": {"sk-secret-1234", "sk-secret-5678"}})
		require.NoError(t, err)
		ctx := context.Background()

		_, err = pool.Rotate(ctx, "openai")
		require.NoError(t, err)

		status := pool.Snapshot(ctx)["openai"]
		require.Equal(t, 2, status.Size)
		require.Equal(t, 1, status.Index)
		require.Equal(t, int64(1), status.Rotations)
		require.Equal(t, "**********5678", status.Current)
		require.NotContains(t, status.Current, "secret")
	})
}

func TestMask(t *testing.T) {
	require.Equal(t, "***", credential.Mask("abc"))
	require.Equal(t, "****5678", credential.Mask("12345678"))
	require.Empty(t, credential.Mask(""))
}

func TestRedisStore(t *testing.T) {
	t.Run("should share rotation position between pools", func(t *testing.T) {
		s := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: s.Addr()})
		keys := map[string][]string{"openai": {"k1", "k2", "k3"}}
		ctx := context.Background()

		first, err := credential.NewPool(credential.NewRedisStore(client), keys)
		require.NoError(t, err)
		second, err := credential.NewPool(credential.NewRedisStore(client), keys)
		require.NoError(t, err)

		current, err := second.Current(ctx, "openai")
		require.NoError(t, err)
		require.Equal(t, "k1", current)

		_, err = first.Rotate(ctx, "openai")
		require.NoError(t, err)

		current, err = second.Current(ctx, "openai")
		require.NoError(t, err)
		require.Equal(t, "k2", current)

		key, err := second.Rotate(ctx, "openai")
		require.NoError(t, err)
		require.Equal(t, "k3", key)
	})

	t.Run("should surface redis errors", func(t *testing.T) {
		s := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: s.Addr()})
		store := credential.NewRedisStore(client)
		s.Close()

		_, err := store.Advance(context.Background(), "openai")
		require.Error(t, err)
	})

	t.Run("should reject corrupted counters", func(t *testing.T) {
		s := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: s.Addr()})
		require.NoError(t, s.Set("switchboard:credential:openai", "nope"))

		_, err := credential.NewRedisStore(client).Counter(context.Background(), "openai")
		require.Error(t, err)
	})
}
