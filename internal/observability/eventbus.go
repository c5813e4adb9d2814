package observability

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/davidbz/switchboard/internal/metrics"
)

// EventBus implements the EventPublisher interface.
type EventBus struct {
	logger *zap.Logger
}

// NewEventBus creates a new event bus. A nil logger falls back to the context logger.
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger: logger,
	}
}

// Publish publishes an event with the given type and data.
func (e *EventBus) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	metrics.Events.WithLabelValues(eventType).Inc()

	logger := e.logger
	if logger == nil {
		logger = FromContext(ctx)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(data)+1)
	fields = append(fields, String("event", eventType))
	for _, k := range keys {
		fields = append(fields, Any(k, data[k]))
	}

	logger.Info("gateway event", fields...)
}
