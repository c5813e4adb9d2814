package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/switchboard/internal/config"
	"github.com/davidbz/switchboard/internal/http/middleware"
	"github.com/davidbz/switchboard/internal/observability"
)

func TestChain(t *testing.T) {
	t.Run("should apply first middleware outermost", func(t *testing.T) {
		var order []string
		tag := func(name string) middleware.Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		handler := middleware.Chain(tag("a"), tag("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			order = append(order, "handler")
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, []string{"a", "b", "handler"}, order)
	})
}

func TestTrace(t *testing.T) {
	t.Run("should inject ids into context and headers", func(t *testing.T) {
		var requestID, traceID string
		handler := middleware.Trace()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID = observability.GetRequestID(r.Context())
			traceID = observability.GetTraceID(r.Context())
			w.WriteHeader(http.StatusTeapot)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusTeapot, rec.Code)
		require.Len(t, traceID, 32)
		require.Equal(t, requestID, rec.Header().Get("X-Request-Id"))
		require.Equal(t, traceID, rec.Header().Get("X-Trace-Id"))
	})

	t.Run("should keep caller request id", func(t *testing.T) {
		handler := middleware.Trace()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "caller-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, "caller-42", rec.Header().Get("X-Request-Id"))
	})
}

func TestCORS(t *testing.T) {
	t.Run("should expose gateway headers to browsers", func(t *testing.T) {
		handler := middleware.CORS(&config.CORSConfig{
			AllowedOrigins: []string{"https://app.example.com"},
			AllowedMethods: []string{"POST"},
		})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
	})

	t.Run("should pass through when disabled", func(t *testing.T) {
		handler := middleware.CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusNoContent, rec.Code)
	})
}
