package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/switchboard/internal/config"
	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/provider/openai"
)

func TestLoad(t *testing.T) {
	t.Run("should load config with defaults", func(t *testing.T) {
		// Clear environment
		os.Clearenv()

		cfg := config.Load()

		require.NotNil(t, cfg)

		require.Equal(t, 8080, cfg.Server.Port)
		require.Equal(t, 30, cfg.Server.ReadTimeout)
		require.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
		require.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
		require.Empty(t, cfg.OpenAI.APIKeys)
		require.Equal(t, "info", cfg.Log.Level)
		require.Equal(t, 3, cfg.Gateway.MaxAttempts)
		require.Equal(t, 5*time.Minute, cfg.Gateway.CacheTTL)
		require.Equal(t, 2*time.Minute, cfg.Health.Interval)
		require.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
		require.Equal(t, 5*time.Minute, cfg.Health.StatsInterval)
		require.Equal(t, "chat", cfg.RateLimit.Scope)
		require.Equal(t, 60, cfg.RateLimit.Ceiling)
		require.Equal(t, time.Minute, cfg.RateLimit.Window)
		require.Equal(t, 1000, cfg.Cache.MaxEntries)
		require.Equal(t, 5, cfg.Cache.LowPriorityThreshold)
		require.Equal(t, config.StateMemory, cfg.State.Backend)
	})

	t.Run("should load config from environment variables", func(t *testing.T) {
		// Set environment variables using t.Setenv for automatic cleanup
		t.Setenv("SERVER_PORT", "9000")
		t.Setenv("OPENAI_API_KEYS", "sk-a,sk-b")
		t.Setenv("OPENAI_BASE_URL", "https://test.openai.com")
		t.Setenv("GATEWAY_MAX_ATTEMPTS", "5")
		t.Setenv("RATE_LIMIT_CEILING", "10")
		t.Setenv("RATE_LIMIT_WINDOW", "30s")
		t.Setenv("RATE_LIMIT_HIGH_FACTOR", "0.3")
		t.Setenv("CACHE_MAX_BYTES", "2048")
		t.Setenv("STATE_BACKEND", "redis")
		t.Setenv("REDIS_ADDR", "redis:6379")

		cfg := config.Load()

		require.Equal(t, 9000, cfg.Server.Port)
		require.Equal(t, []string{"sk-a", "sk-b"}, cfg.OpenAI.APIKeys)
		require.Equal(t, "https://test.openai.com", cfg.OpenAI.BaseURL)
		require.Equal(t, 5, cfg.Gateway.MaxAttempts)
		require.Equal(t, int64(2048), cfg.Cache.MaxBytes)
		require.Equal(t, config.StateRedis, cfg.State.Backend)
		require.Equal(t, "redis:6379", cfg.State.RedisAddr)

		scopes := cfg.RateLimit.Scopes()
		require.Len(t, scopes, 1)
		require.Equal(t, 10, scopes[0].BaseCeiling)
		require.Equal(t, 30*time.Second, scopes[0].Window)
		require.InDelta(t, 0.3, cfg.RateLimit.Thresholds().HighFactor, 1e-9)
	})
}

func TestParseDependenciesConfig(t *testing.T) {
	t.Run("should expose pointers into the loaded config", func(t *testing.T) {
		cfg := &config.Config{}
		deps := config.ParseDependenciesConfig(cfg)

		require.Same(t, &cfg.Server, deps.Server)
		require.Same(t, &cfg.Cache, deps.Cache)
		require.Same(t, &cfg.State, deps.State)
	})
}

func TestLoadProviders(t *testing.T) {
	defaults := &openai.Config{
		APIKeys:    []string{"sk-env"},
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o-mini",
		Timeout:    60,
		MaxRetries: 0,
	}

	t.Run("should build default table with openai and mock", func(t *testing.T) {
		table, err := config.LoadProviders(&config.GatewayConfig{}, defaults)
		require.NoError(t, err)

		require.Len(t, table.Providers, 2)
		require.Equal(t, domain.KindOpenAI, table.Providers[0].Kind)
		require.Equal(t, "gpt-4o-mini", table.Providers[0].Model)
		require.Equal(t, "https://api.openai.com/v1", table.Providers[0].Endpoint)
		require.Equal(t, 60000, table.Providers[0].TimeoutMs)
		require.Equal(t, domain.KindMock, table.Providers[1].Kind)
		require.Equal(t, []string{"sk-env"}, table.Credentials[domain.KindOpenAI])
	})

	t.Run("should only include mock without keys", func(t *testing.T) {
		table, err := config.LoadProviders(&config.GatewayConfig{}, &openai.Config{Model: "gpt-4o-mini"})
		require.NoError(t, err)

		require.Len(t, table.Providers, 1)
		require.Equal(t, "mock", table.Providers[0].ID)
		require.NotContains(t, table.Credentials, domain.KindOpenAI)
	})

	t.Run("should read providers file and merge environment keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "providers.yaml")
		content := `
providers:
  - id: openai-primary
    type: openai
    model: gpt-4o
    priority: 1
    timeout_ms: 15000
  - id: openai-backup
    type: openai
    endpoint: https://backup.example.com/v1
    priority: 2
  - id: mock
    type: mock
    priority: 100
credentials:
  openai:
    - sk-file-1
    - sk-env
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		table, err := config.LoadProviders(&config.GatewayConfig{ProvidersFile: path}, defaults)
		require.NoError(t, err)

		require.Len(t, table.Providers, 3)
		require.Equal(t, "gpt-4o", table.Providers[0].Model)
		require.Equal(t, 15000, table.Providers[0].TimeoutMs)
		require.Equal(t, "gpt-4o-mini", table.Providers[1].Model)
		require.Equal(t, "https://backup.example.com/v1", table.Providers[1].Endpoint)
		require.Equal(t, "openai-backup", table.Providers[1].Name)
		require.Equal(t, []string{"sk-file-1", "sk-env"}, table.Credentials[domain.KindOpenAI])
	})

	t.Run("should fail on a missing file", func(t *testing.T) {
		_, err := config.LoadProviders(&config.GatewayConfig{ProvidersFile: "/does/not/exist.yaml"}, defaults)
		require.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("should fail on malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "providers.yaml")
		require.NoError(t, os.WriteFile(path, []byte("providers: [unterminated"), 0o600))

		_, err := config.LoadProviders(&config.GatewayConfig{ProvidersFile: path}, defaults)
		require.ErrorIs(t, err, domain.ErrConfiguration)
	})
}
