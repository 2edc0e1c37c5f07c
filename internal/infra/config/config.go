package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"agent-market/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Store       StoreConfig       `yaml:"store"`
	Blob        BlobConfig        `yaml:"blob"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	Matching    MatchingConfig    `yaml:"matching"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Gateway     GatewayConfig     `yaml:"gateway"`
}

// StoreConfig holds record store settings (agent registry and negotiation sessions).
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// BlobConfig holds settings for the blob store that persists the vector index.
type BlobConfig struct {
	Backend string `yaml:"backend"` // "file", "s3", "memory"
	Dir     string `yaml:"dir"`     // file backend root
	Bucket  string `yaml:"bucket"`  // s3 backend bucket
	Region  string `yaml:"region,omitempty"`
	Key     string `yaml:"key"` // blob key of the index
}

// EmbeddingConfig holds text embedding provider settings.
type EmbeddingConfig struct {
	Provider          string               `yaml:"provider"` // "bedrock", "openai"
	Model             string               `yaml:"model"`
	Dimensions        int                  `yaml:"dimensions"`
	APIKey            string               `yaml:"api_key,omitempty"`
	BaseURL           string               `yaml:"base_url,omitempty"`
	Region            string               `yaml:"region,omitempty"`
	Timeout           time.Duration        `yaml:"timeout"`
	CacheSize         int                  `yaml:"cache_size"`          // 0 = disabled
	RequestsPerSecond float64              `yaml:"requests_per_second"` // 0 = unlimited
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// LLMConfig holds decision oracle LLM settings.
type LLMConfig struct {
	Provider       string               `yaml:"provider"` // "bedrock", "anthropic"
	Model          string               `yaml:"model"`
	APIKey         string               `yaml:"api_key,omitempty"`
	BaseURL        string               `yaml:"base_url,omitempty"`
	Region         string               `yaml:"region,omitempty"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	MaxTokens      int                  `yaml:"max_tokens"`
	Temperature    float64              `yaml:"temperature"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for oracle providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// MatchingConfig holds ranking and index-write settings.
type MatchingConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SearchMargin        int     `yaml:"search_margin"`
	DefaultMaxResults   int     `yaml:"default_max_results"`
	MaxSaveRetries      int     `yaml:"max_save_retries"`
}

// NegotiationConfig holds negotiation engine settings.
type NegotiationConfig struct {
	HistoryWindow int     `yaml:"history_window"`
	FallbackPrice float64 `yaml:"fallback_price"`
	BuyerSuffix   string  `yaml:"buyer_suffix"`
	// OpenCompletes lets a terminal first reply complete the session in open.
	OpenCompletes bool `yaml:"open_completes"`
}

// GatewayConfig holds request surface settings.
type GatewayConfig struct {
	Addr           string         `yaml:"addr"`
	Tokens         []GatewayToken `yaml:"tokens"`           // empty = no authentication
	RequestsPerMin int            `yaml:"requests_per_min"` // 0 = unlimited
	BurstSize      int            `yaml:"burst_size"`
	TrustedProxies []string       `yaml:"trusted_proxies"`
}

// GatewayToken is a static bearer token accepted by the gateway.
type GatewayToken struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
	Admin bool   `yaml:"admin"` // may call admin reset
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.agentmarket/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agentmarket", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "market.db"),
		},
		Blob: BlobConfig{
			Backend: "file",
			Dir:     filepath.Join(dataDir, "blobs"),
			Key:     "agent_vectors.index",
		},
		Embedding: EmbeddingConfig{
			Provider:   "bedrock",
			Model:      "amazon.titan-embed-text-v1",
			Dimensions: 1536,
			Region:     "us-east-1",
			Timeout:    15 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "bedrock",
			Model:       "anthropic.claude-3-5-sonnet-20240620-v1:0",
			Region:      "us-east-1",
			Timeout:     30 * time.Second,
			MaxTokens:   500,
			Temperature: 0.7,
		},
		Matching: MatchingConfig{
			SimilarityThreshold: 0.3,
			SearchMargin:        5,
			DefaultMaxResults:   5,
			MaxSaveRetries:      3,
		},
		Negotiation: NegotiationConfig{
			HistoryWindow: 5,
			FallbackPrice: 250,
			BuyerSuffix:   "_buyer",
		},
		Gateway: GatewayConfig{
			Addr:           ":8090",
			RequestsPerMin: 600,
			BurstSize:      60,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and validates.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	}

	if err := validatePermissions(path); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("MARKET_CONFIG_KEY"); passphrase != "" {
		if err := openSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("%w: decrypt secrets: %v", domain.ErrConfigLoad, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps MARKET_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARKET_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MARKET_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MARKET_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MARKET_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("MARKET_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MARKET_BLOB_BACKEND"); v != "" {
		cfg.Blob.Backend = v
	}
	if v := os.Getenv("MARKET_BLOB_DIR"); v != "" {
		cfg.Blob.Dir = v
	}
	if v := os.Getenv("MARKET_BLOB_BUCKET"); v != "" {
		cfg.Blob.Bucket = v
	}
	if v := os.Getenv("MARKET_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("MARKET_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MARKET_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MARKET_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("MARKET_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("MARKET_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MARKET_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.LLM.Region = v
		cfg.Embedding.Region = v
		cfg.Blob.Region = v
	}
	if v := os.Getenv("MARKET_MATCHING_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("MARKET_NEGOTIATION_OPEN_COMPLETES"); v != "" {
		cfg.Negotiation.OpenCompletes = v == "true"
	}
	if v := os.Getenv("MARKET_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
}

func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
