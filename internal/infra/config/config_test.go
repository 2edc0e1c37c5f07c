package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agent-market/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Matching.SimilarityThreshold != 0.3 {
		t.Errorf("SimilarityThreshold = %v, want 0.3", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Matching.SearchMargin != 5 {
		t.Errorf("SearchMargin = %d, want 5", cfg.Matching.SearchMargin)
	}
	if cfg.Negotiation.HistoryWindow != 5 {
		t.Errorf("HistoryWindow = %d, want 5", cfg.Negotiation.HistoryWindow)
	}
	if cfg.Negotiation.BuyerSuffix != "_buyer" {
		t.Errorf("BuyerSuffix = %q, want %q", cfg.Negotiation.BuyerSuffix, "_buyer")
	}
	if cfg.Blob.Key != "agent_vectors.index" {
		t.Errorf("Blob.Key = %q", cfg.Blob.Key)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("Embedding.Dimensions = %d, want 1536", cfg.Embedding.Dimensions)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matching.DefaultMaxResults != 5 {
		t.Errorf("expected defaults, got DefaultMaxResults=%d", cfg.Matching.DefaultMaxResults)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
blob:
  backend: "memory"
embedding:
  provider: "openai"
  model: "text-embedding-3-small"
  dimensions: 1536
  api_key: "sk-test"
  timeout: 5s
matching:
  similarity_threshold: 0.5
negotiation:
  fallback_price: 100
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Blob.Backend != "memory" {
		t.Errorf("Blob.Backend = %q, want memory", cfg.Blob.Backend)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("Embedding mismatch: %+v", cfg.Embedding)
	}
	if cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("Embedding.Timeout = %v, want 5s", cfg.Embedding.Timeout)
	}
	if cfg.Matching.SimilarityThreshold != 0.5 {
		t.Errorf("SimilarityThreshold = %v, want 0.5", cfg.Matching.SimilarityThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Matching.SearchMargin != 5 {
		t.Errorf("SearchMargin = %d, want 5", cfg.Matching.SearchMargin)
	}
	if cfg.Negotiation.FallbackPrice != 100 {
		t.Errorf("FallbackPrice = %v, want 100", cfg.Negotiation.FallbackPrice)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("matching: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, domain.ErrConfigLoad) {
		t.Fatalf("err = %v, want ErrConfigLoad", err)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("err = %v, want insecure permissions", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKET_LLM_PROVIDER", "anthropic")
	t.Setenv("MARKET_LOGGER_LEVEL", "debug")
	t.Setenv("MARKET_BLOB_BACKEND", "s3")
	t.Setenv("MARKET_BLOB_BUCKET", "market-vectors")
	t.Setenv("MARKET_MATCHING_SIMILARITY_THRESHOLD", "0.45")
	t.Setenv("MARKET_NEGOTIATION_OPEN_COMPLETES", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "anthropic")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Blob.Backend != "s3" || cfg.Blob.Bucket != "market-vectors" {
		t.Errorf("Blob = %+v", cfg.Blob)
	}
	if cfg.Matching.SimilarityThreshold != 0.45 {
		t.Errorf("SimilarityThreshold = %v, want 0.45", cfg.Matching.SimilarityThreshold)
	}
	if !cfg.Negotiation.OpenCompletes {
		t.Error("OpenCompletes should be true")
	}
}

func TestEnvOverrideBadNumberIgnored(t *testing.T) {
	t.Setenv("MARKET_EMBEDDING_DIMENSIONS", "lots")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("Dimensions = %d, want 1536", cfg.Embedding.Dimensions)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealed, err := SealSecret("sk-abcdef123456", "test-passphrase-123")
	if err != nil {
		t.Fatalf("SealSecret: %v", err)
	}
	if !strings.HasPrefix(sealed, "enc:") {
		t.Fatalf("sealed = %q, want enc: prefix", sealed)
	}

	plain, err := OpenSecret(sealed, "test-passphrase-123")
	if err != nil {
		t.Fatalf("OpenSecret: %v", err)
	}
	if plain != "sk-abcdef123456" {
		t.Errorf("got %q", plain)
	}
}

func TestOpenSecretWrongPassphrase(t *testing.T) {
	sealed, err := SealSecret("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSecret(sealed, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestOpenSecretPlainPassthrough(t *testing.T) {
	v, err := OpenSecret("sk-plain", "whatever")
	if err != nil {
		t.Fatal(err)
	}
	if v != "sk-plain" {
		t.Errorf("got %q", v)
	}
}

func TestLoadDecryptsSealedKeys(t *testing.T) {
	sealed, err := SealSecret("sk-live-anthropic", "cfg-key")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  provider: anthropic\n  model: claude-3-5-sonnet-latest\n  api_key: \"" + sealed + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARKET_CONFIG_KEY", "cfg-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-live-anthropic" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
}
