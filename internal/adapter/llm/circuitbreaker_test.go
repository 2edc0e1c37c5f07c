package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
)

type mockProvider struct {
	name     string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Name() string { return m.name }

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "test",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.Message{Content: "ok"}}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, newTestLogger())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "test", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	callCount := 0
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			callCount++
			return nil, errors.New("provider error")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    60 * time.Second,
	}, newTestLogger())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
		assert.False(t, errors.Is(err, domain.ErrProviderUnavail))
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderUnavail))
	assert.Equal(t, 3, callCount, "open circuit must not reach the provider")
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(context.Background(), config.LLMConfig{Provider: "mystery"}, newTestLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestNewProviderWrapsBreaker(t *testing.T) {
	p, err := NewProvider(context.Background(), config.LLMConfig{
		Provider:       "anthropic",
		Model:          "m",
		APIKey:         "k",
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true},
	}, newTestLogger())
	require.NoError(t, err)

	_, ok := p.(*CircuitBreakerProvider)
	assert.True(t, ok)
	assert.Equal(t, "anthropic", p.Name())
}
