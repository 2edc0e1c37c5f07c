package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
	"agent-market/internal/infra/tracer"
)

// Client is the single-text embedding entry point used by matching. Every
// call is bounded by one timeout; any failure, including a timeout or a
// vector of the wrong length, is reported as ErrEmbeddingFailed.
type Client struct {
	provider domain.EmbeddingProvider
	dims     int
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]float32]
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each embedding call. Zero disables the bound.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit caps outgoing calls per second. Zero or less disables it.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithCircuitBreaker fails fast after repeated provider failures.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) ClientOption {
	return func(c *Client) {
		if !cfg.Enabled {
			return
		}
		maxFailures := cfg.MaxFailures
		c.breaker = gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
			Name:        "embedding:" + c.provider.Name(),
			MaxRequests: 1,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
}

// NewClient wraps provider. dims is the vector length every result must have.
func NewClient(provider domain.EmbeddingProvider, dims int, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{provider: provider, dims: dims, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimensions implements domain.Embedder.
func (c *Client) Dimensions() int { return c.dims }

// Embed implements domain.Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.StartSpan(ctx, "embedding.embed")
	span.SetAttributes(
		tracer.StringAttr("embedding.provider", c.provider.Name()),
		tracer.IntAttr("embedding.text_len", len(text)),
	)

	vec, err := c.embed(ctx, text)
	tracer.Finish(span, err)
	if err != nil {
		c.logger.Warn("embedding failed", "provider", c.provider.Name(), "error", err)
	}
	return vec, err
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text to embed is empty", domain.ErrInvalidInput)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.Classify(domain.ErrEmbeddingFailed, err)
		}
	}

	call := func() ([]float32, error) { return c.callProvider(ctx, text) }
	var (
		vec []float32
		err error
	)
	if c.breaker != nil {
		vec, err = c.breaker.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w: circuit open: %v", domain.ErrEmbeddingFailed, domain.ErrProviderUnavail, err)
		}
	} else {
		vec, err = call()
	}
	if err != nil {
		return nil, domain.Classify(domain.ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (c *Client) callProvider(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: provider returned %d vectors for one text", domain.ErrEmbeddingFailed, len(vecs))
	}
	if len(vecs[0]) != c.dims {
		return nil, fmt.Errorf("%w: %w: got %d values, want %d",
			domain.ErrEmbeddingFailed, domain.ErrDimensionMismatch, len(vecs[0]), c.dims)
	}
	return vecs[0], nil
}

var _ domain.Embedder = (*Client)(nil)
