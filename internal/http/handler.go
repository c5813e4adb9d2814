package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/observability"
)

const (
	headerClientID = "X-Client-ID"
	headerFallback = "X-Gateway-Fallback"
	headerCache    = "X-Gateway-Cache"
	headerProvider = "X-Gateway-Provider"
	headerAttempt  = "X-Gateway-Attempt"
	headerRetry    = "Retry-After"
)

// Gateway is the service the handler exposes.
type Gateway interface {
	Send(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error)
	Status(ctx context.Context) domain.GatewayStatus
}

// Handler handles HTTP requests.
type Handler struct {
	gateway Gateway
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(gateway Gateway) *Handler {
	return &Handler{
		gateway: gateway,
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// HandleChat routes one chat message through the gateway.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if clientID := r.Header.Get(headerClientID); clientID != "" && req.ClientID == "" {
		req.ClientID = clientID
	}

	ctx = observability.WithClientID(ctx, req.ClientID)
	if req.Model != "" {
		ctx = observability.WithModel(ctx, req.Model)
	}

	logger := observability.FromContext(ctx)
	logger.Info("chat request received",
		observability.String("pinned_provider", req.Provider),
		observability.Int("history", len(req.History)),
		observability.Bool("skip_cache", req.SkipCache),
	)

	result, err := h.gateway.Send(ctx, &req)
	if err != nil {
		h.writeSendError(ctx, w, err)
		return
	}

	logger.Info("chat request served",
		observability.String("provider_id", result.Provider),
		observability.Int("attempt", result.Attempt),
		observability.Bool("fallback", result.Fallback),
		observability.Bool("cached", result.Cached),
		observability.Int("tokens", result.Usage.TotalTokens),
	)

	setGatewayHeaders(w, result)
	writeJSON(ctx, w, http.StatusOK, result)
}

// HandleStatus returns the gateway status snapshot.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, h.gateway.Status(r.Context()))
}

// HandleHealth reports readiness: 200 once the gateway is initialized.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.gateway.Status(r.Context())

	code := http.StatusOK
	state := "healthy"
	switch {
	case !status.Initialized:
		code = http.StatusServiceUnavailable
		state = "starting"
	case status.ActiveProviders == 0:
		state = "degraded"
	}

	writeJSON(r.Context(), w, code, map[string]interface{}{
		"status":           state,
		"active_providers": status.ActiveProviders,
		"total_providers":  status.TotalProviders,
		"current_provider": status.CurrentProvider,
	})
}

func (h *Handler) writeSendError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := observability.FromContext(ctx)

	var limited *domain.RateLimitedError
	switch {
	case errors.As(err, &limited):
		seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set(headerRetry, strconv.Itoa(seconds))
		logger.Info("chat request rate limited", observability.Duration("retry_after", limited.RetryAfter))
		writeJSONError(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), RetryAfter: seconds})
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("chat request aborted", observability.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, domain.ErrSyntheticUnavailable):
		logger.Error("chat request failed", observability.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("chat request failed", observability.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// setGatewayHeaders exposes routing metadata to callers.
func setGatewayHeaders(w http.ResponseWriter, result *domain.SendResult) {
	w.Header().Set(headerFallback, strconv.FormatBool(result.Fallback))
	if result.Cached {
		w.Header().Set(headerCache, "HIT")
	} else {
		w.Header().Set(headerCache, "MISS")
	}
	w.Header().Set(headerProvider, result.Provider)
	w.Header().Set(headerAttempt, strconv.Itoa(result.Attempt))
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Already written status, can't change it, just log.
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSONError(w, code, errorResponse{Error: message})
}

func writeJSONError(w http.ResponseWriter, code int, body errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
