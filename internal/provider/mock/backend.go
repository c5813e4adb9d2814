// Package mock provides the synthetic backend. It never calls the network and
// always answers, so the gateway has a last resort when every real provider fails.
package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/observability"
)

const (
	defaultModel = "mock-1"
	replyPrefix  = "The assistant is running in offline mode. You said: "
	maxEcho      = 200
)

// Backend implements domain.Backend without external calls.
type Backend struct {
	cfg         domain.ProviderConfig
	initialized atomic.Bool
}

// NewBackend creates a synthetic backend for a provider.
func NewBackend(cfg domain.ProviderConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Initialize is a no-op; the synthetic backend needs no credential.
func (b *Backend) Initialize(_ context.Context, _ string) error {
	b.initialized.Store(true)
	return nil
}

// IsAvailable always reports true.
func (b *Backend) IsAvailable() bool {
	return true
}

// GenerateCompletion returns a deterministic reply built from the last user message.
func (b *Backend) GenerateCompletion(
	ctx context.Context,
	req *domain.CompletionRequest,
) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	content := buildReply(req.Messages)

	promptTokens := countTokens(req.Messages)
	completionTokens := len(strings.Fields(content))

	observability.FromContext(ctx).Debug("synthetic reply generated",
		observability.Int("prompt_tokens", promptTokens),
		observability.Int("completion_tokens", completionTokens),
	)

	model := req.Model
	if model == "" {
		model = b.cfg.Model
	}
	if model == "" {
		model = defaultModel
	}

	return &domain.CompletionResponse{
		ID:       fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Model:    model,
		Provider: b.cfg.ID,
		Content:  content,
		Usage: domain.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		FinishTime: time.Now(),
	}, nil
}

// buildReply echoes the last user message, truncated.
func buildReply(messages []domain.Message) string {
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = strings.TrimSpace(messages[i].Content)
			break
		}
	}

	if last == "" {
		return strings.TrimSpace(replyPrefix)
	}

	if runes := []rune(last); len(runes) > maxEcho {
		last = string(runes[:maxEcho]) + "..."
	}
	return replyPrefix + last
}

// countTokens performs simple word-based token counting.
func countTokens(messages []domain.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(strings.Fields(msg.Content))
	}
	return total
}
