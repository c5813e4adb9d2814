package mock_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/provider/mock"
)

func TestBackend(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "mock", Kind: domain.KindMock, Model: "mock-1"}

	t.Run("should always be available", func(t *testing.T) {
		backend := mock.NewBackend(cfg)

		require.True(t, backend.IsAvailable())
		require.NoError(t, backend.Initialize(context.Background(), ""))
		require.True(t, backend.IsAvailable())
	})

	t.Run("should echo the last user message", func(t *testing.T) {
		backend := mock.NewBackend(cfg)

		resp, err := backend.GenerateCompletion(context.Background(), &domain.CompletionRequest{
			Messages: []domain.Message{
				{Role: "system", Content: "be brief"},
				{Role: "user", Content: "first"},
				{Role: "assistant", Content: "ok"},
				{Role: "user", Content: "play some jazz"},
			},
		})

		require.NoError(t, err)
		require.True(t, strings.HasSuffix(resp.Content, "play some jazz"))
		require.Equal(t, "mock", resp.Provider)
		require.Equal(t, "mock-1", resp.Model)
		require.Equal(t, 7, resp.Usage.PromptTokens)
		require.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
		require.NotEmpty(t, resp.ID)
	})

	t.Run("should truncate long input", func(t *testing.T) {
		backend := mock.NewBackend(cfg)

		resp, err := backend.GenerateCompletion(context.Background(), &domain.CompletionRequest{
			Messages: []domain.Message{{Role: "user", Content: strings.Repeat("a", 500)}},
		})

		require.NoError(t, err)
		require.True(t, strings.HasSuffix(resp.Content, "..."))
		require.Less(t, len(resp.Content), 300)
	})

	t.Run("should reject nil request", func(t *testing.T) {
		_, err := mock.NewBackend(cfg).GenerateCompletion(context.Background(), nil)

		require.Error(t, err)
		require.Contains(t, err.Error(), "request cannot be nil")
	})
}
