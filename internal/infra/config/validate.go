package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateStore(cfg, ve)
	validateBlob(cfg, ve)
	validateEmbedding(cfg, ve)
	validateLLM(cfg, ve)
	validateMatching(cfg, ve)
	validateNegotiation(cfg, ve)
	validateGateway(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Path == "" {
		ve.Add("store.path must not be empty")
	}
}

func validateBlob(cfg *Config, ve *ValidationError) {
	if cfg.Blob.Key == "" {
		ve.Add("blob.key must not be empty")
	}
	switch cfg.Blob.Backend {
	case "file":
		if cfg.Blob.Dir == "" {
			ve.Add("blob.dir is required for the file backend")
		}
	case "s3":
		if cfg.Blob.Bucket == "" {
			ve.Add("blob.bucket is required for the s3 backend (set via MARKET_BLOB_BUCKET)")
		}
	case "memory":
	default:
		ve.Add("blob.backend %q is invalid (want: file, s3, memory)", cfg.Blob.Backend)
	}
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	e := cfg.Embedding
	switch e.Provider {
	case "bedrock":
		if e.Region == "" {
			ve.Add("embedding.region is required for the bedrock provider")
		}
	case "openai":
		if e.APIKey == "" {
			ve.Add("embedding.api_key is empty (set via MARKET_EMBEDDING_API_KEY)")
		}
	default:
		ve.Add("embedding.provider %q is invalid (want: bedrock, openai)", e.Provider)
	}
	if e.Model == "" {
		ve.Add("embedding.model must not be empty")
	}
	if e.Dimensions <= 0 {
		ve.Add("embedding.dimensions must be > 0")
	}
	if e.Timeout <= 0 {
		ve.Add("embedding.timeout must be > 0")
	}
	if e.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
	if e.RequestsPerSecond < 0 {
		ve.Add("embedding.requests_per_second must be >= 0")
	}
	validateBreaker("embedding", e.CircuitBreaker, ve)
}

func validateLLM(cfg *Config, ve *ValidationError) {
	l := cfg.LLM
	switch l.Provider {
	case "bedrock":
		if l.Region == "" {
			ve.Add("llm.region is required for the bedrock provider")
		}
	case "anthropic":
		if l.APIKey == "" {
			ve.Add("llm.api_key is empty (set via MARKET_LLM_API_KEY)")
		}
	default:
		ve.Add("llm.provider %q is invalid (want: bedrock, anthropic)", l.Provider)
	}
	if l.Model == "" {
		ve.Add("llm.model must not be empty")
	}
	if l.Timeout <= 0 {
		ve.Add("llm.timeout must be > 0")
	}
	if l.MaxTokens <= 0 {
		ve.Add("llm.max_tokens must be > 0")
	}
	if l.Temperature < 0 || l.Temperature > 1 {
		ve.Add("llm.temperature must be in [0, 1]")
	}
	validateBreaker("llm", l.CircuitBreaker, ve)
}

func validateBreaker(section string, cb CircuitBreakerConfig, ve *ValidationError) {
	if !cb.Enabled {
		return
	}
	if cb.MaxFailures == 0 {
		ve.Add("%s.circuit_breaker.max_failures must be > 0", section)
	}
	if cb.Timeout <= 0 {
		ve.Add("%s.circuit_breaker.timeout must be > 0", section)
	}
}

func validateMatching(cfg *Config, ve *ValidationError) {
	m := cfg.Matching
	if m.SearchMargin < 0 {
		ve.Add("matching.search_margin must be >= 0")
	}
	if m.DefaultMaxResults <= 0 {
		ve.Add("matching.default_max_results must be > 0")
	}
	if m.MaxSaveRetries <= 0 {
		ve.Add("matching.max_save_retries must be > 0")
	}
}

func validateNegotiation(cfg *Config, ve *ValidationError) {
	n := cfg.Negotiation
	if n.HistoryWindow <= 0 {
		ve.Add("negotiation.history_window must be > 0")
	}
	if n.FallbackPrice < 0 {
		ve.Add("negotiation.fallback_price must be >= 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr must not be empty")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if cfg.Gateway.RequestsPerMin < 0 {
		ve.Add("gateway.requests_per_min must be >= 0, got %d", cfg.Gateway.RequestsPerMin)
	}
	if cfg.Gateway.RequestsPerMin > 0 && cfg.Gateway.BurstSize < 1 {
		ve.Add("gateway.burst_size must be >= 1 when rate limiting is enabled")
	}
	for i, tok := range cfg.Gateway.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.tokens[%d].token must not be empty", i)
		}
	}
}
