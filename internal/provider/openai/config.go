package openai

// Config contains defaults for OpenAI providers built from the environment.
// Per-provider values in the provider table take precedence:
//   - APIKeys: seeds the "openai" credential pool
//   - BaseURL: maps to option.WithBaseURL() when a provider has no endpoint
//   - Model: used when a provider has no model
//   - Timeout: per-request timeout in seconds when a provider sets none
//   - MaxRetries: SDK-level retries; the gateway retries across providers itself
type Config struct {
	APIKeys    []string `env:"OPENAI_API_KEYS"    envSeparator:","`
	BaseURL    string   `env:"OPENAI_BASE_URL"    envDefault:"https://api.openai.com/v1"`
	Model      string   `env:"OPENAI_MODEL"       envDefault:"gpt-4o-mini"`
	Timeout    int      `env:"OPENAI_TIMEOUT"     envDefault:"60"`
	MaxRetries int      `env:"OPENAI_MAX_RETRIES" envDefault:"0"`
}
