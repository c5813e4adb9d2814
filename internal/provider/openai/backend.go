// Package openai provides a backend for OpenAI-compatible chat completion APIs
// using the official SDK. The client is rebuilt on every Initialize so a
// rotated credential takes effect immediately.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/observability"
)

// Backend implements domain.Backend for OpenAI.
type Backend struct {
	cfg domain.ProviderConfig

	mu     sync.RWMutex
	client openai.Client
	ready  bool
}

// NewBackend creates an uninitialized OpenAI backend for a provider.
func NewBackend(cfg domain.ProviderConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Initialize builds the SDK client with the given API key.
func (b *Backend) Initialize(ctx context.Context, credential string) error {
	if credential == "" {
		b.mu.Lock()
		b.ready = false
		b.mu.Unlock()
		return errors.New("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithRequestTimeout(b.cfg.Timeout()),
		option.WithMaxRetries(b.cfg.MaxRetries),
	}

	if b.cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(b.cfg.Endpoint))
	}

	client := openai.NewClient(opts...)

	b.mu.Lock()
	b.client = client
	b.ready = true
	b.mu.Unlock()

	observability.FromContext(ctx).Debug("openai backend initialized",
		observability.String("provider_id", b.cfg.ID),
		observability.String("endpoint", b.cfg.Endpoint))

	return nil
}

// IsAvailable reports whether a client has been configured.
func (b *Backend) IsAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// GenerateCompletion sends a completion request and returns the full response.
func (b *Backend) GenerateCompletion(
	ctx context.Context,
	req *domain.CompletionRequest,
) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	b.mu.RLock()
	client, ready := b.client, b.ready
	b.mu.RUnlock()

	if !ready {
		return nil, fmt.Errorf("openai backend %s is not initialized", b.cfg.ID)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling OpenAI API")

	resp, err := client.Chat.Completions.New(ctx, b.toSDKParams(req))
	if err != nil {
		return nil, b.classify(err)
	}

	logger.Debug("OpenAI API call succeeded",
		observability.Int("prompt_tokens", int(resp.Usage.PromptTokens)),
		observability.Int("completion_tokens", int(resp.Usage.CompletionTokens)),
	)

	return b.toDomainResponse(resp), nil
}

// classify converts SDK errors into domain backend errors.
func (b *Backend) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = fmt.Sprintf("OpenAI API returned status %d", apiErr.StatusCode)
		}
		return domain.NewBackendError(b.cfg.ID, apiErr.StatusCode, message, err)
	}
	return fmt.Errorf("OpenAI API call failed: %w", err)
}

// toSDKParams converts domain request to SDK ChatCompletionNewParams.
func (b *Backend) toSDKParams(req *domain.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			messages[i] = openai.AssistantMessage(msg.Content)
		case "system":
			messages[i] = openai.SystemMessage(msg.Content)
		default:
			messages[i] = openai.UserMessage(msg.Content)
		}
	}

	model := req.Model
	if model == "" {
		model = b.cfg.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	return params
}

// toDomainResponse converts SDK response to domain response.
func (b *Backend) toDomainResponse(resp *openai.ChatCompletion) *domain.CompletionResponse {
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &domain.CompletionResponse{
		ID:       resp.ID,
		Model:    string(resp.Model),
		Provider: b.cfg.ID,
		Content:  content,
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		FinishTime: time.Now(),
	}
}
