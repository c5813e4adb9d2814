package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"
	"gopkg.in/yaml.v3"

	"github.com/davidbz/switchboard/internal/cache"
	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/health"
	"github.com/davidbz/switchboard/internal/observability"
	"github.com/davidbz/switchboard/internal/provider/openai"
	"github.com/davidbz/switchboard/internal/ratelimit"
)

const (
	// StateMemory keeps credential counters and rate windows in process.
	StateMemory = "memory"
	// StateRedis shares them between gateway instances.
	StateRedis = "redis"

	defaultSyntheticID       = "mock"
	defaultSyntheticPriority = 100
)

// Config represents the gateway configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       observability.LogConfig
	OpenAI    openai.Config
	Gateway   GatewayConfig
	Health    health.Config
	RateLimit RateLimitConfig
	Cache     cache.Config
	State     StateConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"120"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization,X-Client-ID"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// GatewayConfig contains routing and response caching settings.
type GatewayConfig struct {
	MaxAttempts   int           `env:"GATEWAY_MAX_ATTEMPTS"   envDefault:"3"`
	ProvidersFile string        `env:"GATEWAY_PROVIDERS_FILE"`
	CacheTTL      time.Duration `env:"GATEWAY_CACHE_TTL"      envDefault:"5m"`
	CachePrefetch bool          `env:"GATEWAY_CACHE_PREFETCH" envDefault:"false"`
}

// Settings converts the gateway config into service settings.
func (c *GatewayConfig) Settings(scope string) domain.GatewaySettings {
	return domain.GatewaySettings{
		RateLimitScope: scope,
		CacheTTL:       c.CacheTTL,
		CachePrefetch:  c.CachePrefetch,
	}
}

// RateLimitConfig contains the admission scope and the health thresholds.
type RateLimitConfig struct {
	Scope             string        `env:"RATE_LIMIT_SCOPE"               envDefault:"chat"`
	Ceiling           int           `env:"RATE_LIMIT_CEILING"             envDefault:"60"`
	Window            time.Duration `env:"RATE_LIMIT_WINDOW"              envDefault:"1m"`
	HighLatency       time.Duration `env:"RATE_LIMIT_HIGH_LATENCY"        envDefault:"5s"`
	HighErrorRate     float64       `env:"RATE_LIMIT_HIGH_ERROR_RATE"     envDefault:"0.25"`
	ModerateLatency   time.Duration `env:"RATE_LIMIT_MODERATE_LATENCY"    envDefault:"2s"`
	ModerateErrorRate float64       `env:"RATE_LIMIT_MODERATE_ERROR_RATE" envDefault:"0.10"`
	LowLatency        time.Duration `env:"RATE_LIMIT_LOW_LATENCY"         envDefault:"1s"`
	LowErrorRate      float64       `env:"RATE_LIMIT_LOW_ERROR_RATE"      envDefault:"0.02"`
	HighFactor        float64       `env:"RATE_LIMIT_HIGH_FACTOR"         envDefault:"0.5"`
	ModerateFactor    float64       `env:"RATE_LIMIT_MODERATE_FACTOR"     envDefault:"0.75"`
	LowFactor         float64       `env:"RATE_LIMIT_LOW_FACTOR"          envDefault:"1.25"`
}

// Scopes returns the configured admission scopes.
func (c *RateLimitConfig) Scopes() []ratelimit.Scope {
	return []ratelimit.Scope{{Name: c.Scope, BaseCeiling: c.Ceiling, Window: c.Window}}
}

// Thresholds returns the configured health tuning.
func (c *RateLimitConfig) Thresholds() ratelimit.Thresholds {
	return ratelimit.Thresholds{
		HighLatency:     c.HighLatency,
		HighErrorRate:   c.HighErrorRate,
		ModerateLatency: c.ModerateLatency,
		ModerateErrRate: c.ModerateErrorRate,
		LowLatency:      c.LowLatency,
		LowErrorRate:    c.LowErrorRate,
		HighFactor:      c.HighFactor,
		ModerateFactor:  c.ModerateFactor,
		LowFactor:       c.LowFactor,
	}
}

// StateConfig selects where shared gateway state lives.
type StateConfig struct {
	Backend       string `env:"STATE_BACKEND"  envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`
}

// ProviderTable is the static provider list and the per-kind credentials.
type ProviderTable struct {
	Providers   []domain.ProviderConfig `yaml:"providers"`
	Credentials map[string][]string     `yaml:"credentials"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out

	Server    *ServerConfig
	CORS      *CORSConfig
	Log       *observability.LogConfig
	OpenAI    *openai.Config
	Gateway   *GatewayConfig
	Health    *health.Config
	RateLimit *RateLimitConfig
	Cache     *cache.Config
	State     *StateConfig
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		Server:    &cfg.Server,
		CORS:      &cfg.CORS,
		Log:       &cfg.Log,
		OpenAI:    &cfg.OpenAI,
		Gateway:   &cfg.Gateway,
		Health:    &cfg.Health,
		RateLimit: &cfg.RateLimit,
		Cache:     &cfg.Cache,
		State:     &cfg.State,
	}
}

// LoadProviders builds the provider table from GATEWAY_PROVIDERS_FILE, or the
// default table when no file is set. OPENAI_API_KEYS is merged into the
// openai credential list and OpenAI defaults fill unset provider fields.
func LoadProviders(gateway *GatewayConfig, defaults *openai.Config) (*ProviderTable, error) {
	table := &ProviderTable{}

	if gateway != nil && gateway.ProvidersFile != "" {
		data, err := os.ReadFile(gateway.ProvidersFile)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read providers file: %w", domain.ErrConfiguration, err)
		}
		if err = yaml.Unmarshal(data, table); err != nil {
			return nil, fmt.Errorf("%w: failed to parse providers file: %w", domain.ErrConfiguration, err)
		}
	}

	if table.Credentials == nil {
		table.Credentials = make(map[string][]string)
	}
	if defaults != nil {
		table.Credentials[domain.KindOpenAI] = mergeKeys(table.Credentials[domain.KindOpenAI], defaults.APIKeys)
		if len(table.Credentials[domain.KindOpenAI]) == 0 {
			delete(table.Credentials, domain.KindOpenAI)
		}
	}

	if len(table.Providers) == 0 {
		table.Providers = defaultProviders(table.Credentials, defaults)
	}

	for i := range table.Providers {
		applyDefaults(&table.Providers[i], defaults)
	}

	return table, nil
}

func defaultProviders(credentials map[string][]string, defaults *openai.Config) []domain.ProviderConfig {
	var providers []domain.ProviderConfig
	if len(credentials[domain.KindOpenAI]) > 0 {
		p := domain.ProviderConfig{
			ID:       domain.KindOpenAI,
			Name:     "OpenAI",
			Kind:     domain.KindOpenAI,
			Priority: 1,
			Features: []string{"chat"},
		}
		if defaults != nil {
			p.Model = defaults.Model
		}
		providers = append(providers, p)
	}

	return append(providers, domain.ProviderConfig{
		ID:       defaultSyntheticID,
		Name:     "Offline assistant",
		Kind:     domain.KindMock,
		Model:    "mock",
		Priority: defaultSyntheticPriority,
	})
}

func applyDefaults(p *domain.ProviderConfig, defaults *openai.Config) {
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Kind != domain.KindOpenAI || defaults == nil {
		return
	}
	if p.Model == "" {
		p.Model = defaults.Model
	}
	if p.Endpoint == "" {
		p.Endpoint = defaults.BaseURL
	}
	if p.TimeoutMs <= 0 && defaults.Timeout > 0 {
		p.TimeoutMs = defaults.Timeout * int(time.Second/time.Millisecond)
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaults.MaxRetries
	}
}

// mergeKeys appends extra keys that are not already listed, dropping blanks.
func mergeKeys(keys []string, extra []string) []string {
	seen := make(map[string]struct{}, len(keys)+len(extra))
	out := make([]string, 0, len(keys)+len(extra))
	for _, key := range append(append([]string(nil), keys...), extra...) {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
