package embedding

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
)

// mockProvider is a domain.EmbeddingProvider driven by a func field.
type mockProvider struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedFn(ctx, texts)
}
func (m *mockProvider) Dimensions() int { return 3 }
func (m *mockProvider) Name() string    { return "mock" }

func fixed(vec ...float32) *mockProvider {
	return &mockProvider{embedFn: func(context.Context, []string) ([][]float32, error) {
		return [][]float32{vec}, nil
	}}
}

func TestClientEmbed(t *testing.T) {
	c := NewClient(fixed(1, 2, 3), 3, slog.Default())
	vec, err := c.Embed(context.Background(), "sells parking")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, 3, c.Dimensions())
}

func TestClientRejectsEmptyText(t *testing.T) {
	c := NewClient(fixed(1, 2, 3), 3, slog.Default())
	_, err := c.Embed(context.Background(), "   ")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClientDimensionMismatchIsEmbeddingFailure(t *testing.T) {
	c := NewClient(fixed(1, 2), 3, slog.Default())
	_, err := c.Embed(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, domain.CodeEmbeddingFailed, domain.ErrorCodeOf(err))
}

func TestClientTimeoutIsEmbeddingFailure(t *testing.T) {
	slow := &mockProvider{embedFn: func(ctx context.Context, _ []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := NewClient(slow, 3, slog.Default(), WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := c.Embed(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientProviderErrorClassified(t *testing.T) {
	boom := errors.New("connection reset")
	c := NewClient(&mockProvider{embedFn: func(context.Context, []string) ([][]float32, error) {
		return nil, boom
	}}, 3, slog.Default())

	_, err := c.Embed(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	require.ErrorIs(t, err, boom)
}

func TestClientCircuitBreakerOpens(t *testing.T) {
	calls := 0
	c := NewClient(&mockProvider{embedFn: func(context.Context, []string) ([][]float32, error) {
		calls++
		return nil, errors.New("down")
	}}, 3, slog.Default(), WithCircuitBreaker(config.CircuitBreakerConfig{
		Enabled: true, MaxFailures: 2, Timeout: time.Minute,
	}))

	for i := 0; i < 4; i++ {
		_, err := c.Embed(context.Background(), "x")
		require.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	}
	assert.Equal(t, 2, calls, "open circuit must not reach the provider")

	_, err := c.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrProviderUnavail)
}

func TestClientRateLimit(t *testing.T) {
	c := NewClient(fixed(1, 2, 3), 3, slog.Default(), WithRateLimit(1000))
	for i := 0; i < 3; i++ {
		_, err := c.Embed(context.Background(), "x")
		require.NoError(t, err)
	}
}
