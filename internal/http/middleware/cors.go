package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/davidbz/switchboard/internal/config"
)

// exposedHeaders lets browser clients read routing metadata and throttling hints.
//
//nolint:gochecknoglobals // Read-only header list
var exposedHeaders = []string{
	"Retry-After",
	"X-Request-Id",
	"X-Trace-Id",
	"X-Gateway-Cache",
	"X-Gateway-Fallback",
	"X-Gateway-Provider",
	"X-Gateway-Attempt",
}

// CORS applies the configured cross-origin policy with rs/cors. A nil config disables it.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	policy := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})

	return policy.Handler
}
