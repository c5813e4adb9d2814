package http_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/switchboard/internal/config"
	"github.com/davidbz/switchboard/internal/domain"
	apihttp "github.com/davidbz/switchboard/internal/http"
	"github.com/davidbz/switchboard/internal/http/middleware"
	"github.com/davidbz/switchboard/internal/mocks"
)

func newRoutes(t *testing.T, gateway *mocks.MockGateway) http.Handler {
	t.Helper()
	cors := &config.CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}
	server := apihttp.NewServer(&config.ServerConfig{Port: 0}, apihttp.NewHandler(gateway), middleware.BuildMiddlewareChain(cors))
	return server.Routes()
}

func chatRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(payload))
}

func TestHandleChat(t *testing.T) {
	t.Run("should return result with gateway headers", func(t *testing.T) {
		gateway := mocks.NewMockGateway(t)
		gateway.EXPECT().
			Send(mock.Anything, mock.MatchedBy(func(req *domain.SendRequest) bool {
				return req.Message == "hello" && req.ClientID == "team-a"
			})).
			Return(&domain.SendResult{
				Response:     "hi there",
				Provider:     "openai-primary",
				Model:        "gpt-4o-mini",
				ResponseTime: 120 * time.Millisecond,
				Attempt:      1,
				Usage:        domain.Usage{TotalTokens: 9},
			}, nil)

		req := chatRequest(t, domain.SendRequest{Message: "hello"})
		req.Header.Set("X-Client-ID", "team-a")
		rec := httptest.NewRecorder()

		newRoutes(t, gateway).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "false", rec.Header().Get("X-Gateway-Fallback"))
		require.Equal(t, "MISS", rec.Header().Get("X-Gateway-Cache"))
		require.Equal(t, "openai-primary", rec.Header().Get("X-Gateway-Provider"))
		require.Equal(t, "1", rec.Header().Get("X-Gateway-Attempt"))
		require.NotEmpty(t, rec.Header().Get("X-Request-Id"))

		var result domain.SendResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Equal(t, "hi there", result.Response)
	})

	t.Run("should flag cached fallback responses", func(t *testing.T) {
		gateway := mocks.NewMockGateway(t)
		gateway.EXPECT().Send(mock.Anything, mock.Anything).Return(&domain.SendResult{
			Response: "offline",
			Provider: "mock",
			Attempt:  4,
			Fallback: true,
			Cached:   true,
		}, nil)

		rec := httptest.NewRecorder()
		newRoutes(t, gateway).ServeHTTP(rec, chatRequest(t, domain.SendRequest{Message: "hello"}))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "true", rec.Header().Get("X-Gateway-Fallback"))
		require.Equal(t, "HIT", rec.Header().Get("X-Gateway-Cache"))
	})

	t.Run("should keep client id from the body over the header", func(t *testing.T) {
		gateway := mocks.NewMockGateway(t)
		gateway.EXPECT().
			Send(mock.Anything, mock.MatchedBy(func(req *domain.SendRequest) bool {
				return req.ClientID == "body-client"
			})).
			Return(&domain.SendResult{Response: "ok"}, nil)

		req := chatRequest(t, domain.SendRequest{Message: "hello", ClientID: "body-client"})
		req.Header.Set("X-Client-ID", "header-client")
		rec := httptest.NewRecorder()

		newRoutes(t, gateway).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("should return 429 with retry after when rate limited", func(t *testing.T) {
		gateway := mocks.NewMockGateway(t)
		gateway.EXPECT().Send(mock.Anything, mock.Anything).Return(nil, &domain.RateLimitedError{
			Scope:      "chat",
			Identifier: "anonymous",
			RetryAfter: 1500 * time.Millisecond,
		})

		rec := httptest.NewRecorder()
		newRoutes(t, gateway).ServeHTTP(rec, chatRequest(t, domain.SendRequest{Message: "hello"}))

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.Equal(t, "2", rec.Header().Get("Retry-After"))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.InDelta(t, 2, body["retry_after"], 1e-9)
	})

	t.Run("should map gateway errors to status codes", func(t *testing.T) {
		tests := []struct {
			name     string
			err      error
			expected int
		}{
			{name: "invalid request", err: fmt.Errorf("%w: message cannot be empty", domain.ErrInvalidRequest), expected: http.StatusBadRequest},
			{name: "not initialized", err: domain.ErrNotInitialized, expected: http.StatusServiceUnavailable},
			{name: "synthetic unavailable", err: fmt.Errorf("%w: boom", domain.ErrSyntheticUnavailable), expected: http.StatusBadGateway},
			{name: "cancelled", err: context.Canceled, expected: http.StatusGatewayTimeout},
			{name: "unknown", err: errors.New("unexpected"), expected: http.StatusInternalServerError},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				gateway := mocks.NewMockGateway(t)
				gateway.EXPECT().Send(mock.Anything, mock.Anything).Return(nil, tt.err)

				rec := httptest.NewRecorder()
				newRoutes(t, gateway).ServeHTTP(rec, chatRequest(t, domain.SendRequest{Message: "hello"}))

				require.Equal(t, tt.expected, rec.Code)
				require.Contains(t, rec.Body.String(), "error")
			})
		}
	})

	t.Run("should reject malformed body", func(t *testing.T) {
		gateway := mocks.NewMockGateway(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		newRoutes(t, gateway).ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject other methods", func(t *testing.T) {
		gateway := mocks.NewMockGateway(t)

		rec := httptest.NewRecorder()
		newRoutes(t, gateway).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))

		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleStatus(t *testing.T) {
	t.Run("should return gateway status", func(t *testing.T) {
		gateway := mocks.NewMockGateway(t)
		gateway.EXPECT().Status(mock.Anything).Return(domain.GatewayStatus{
			Initialized:     true,
			CurrentProvider: "openai-primary",
			ActiveProviders: 1,
			TotalProviders:  2,
			FallbackOrder:   []string{"openai-primary", "mock"},
		})

		rec := httptest.NewRecorder()
		newRoutes(t, gateway).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var status domain.GatewayStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		require.Equal(t, "openai-primary", status.CurrentProvider)
		require.Equal(t, []string{"openai-primary", "mock"}, status.FallbackOrder)
	})
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.GatewayStatus
		code     int
		expected string
	}{
		{name: "should report healthy", status: domain.GatewayStatus{Initialized: true, ActiveProviders: 1}, code: http.StatusOK, expected: "healthy"},
		{name: "should report degraded", status: domain.GatewayStatus{Initialized: true}, code: http.StatusOK, expected: "degraded"},
		{name: "should report starting", status: domain.GatewayStatus{}, code: http.StatusServiceUnavailable, expected: "starting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := mocks.NewMockGateway(t)
			gateway.EXPECT().Status(mock.Anything).Return(tt.status)

			rec := httptest.NewRecorder()
			newRoutes(t, gateway).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.code, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.expected, body["status"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("should expose prometheus metrics", func(t *testing.T) {
		gateway := mocks.NewMockGateway(t)

		rec := httptest.NewRecorder()
		newRoutes(t, gateway).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "go_goroutines")
	})
}
