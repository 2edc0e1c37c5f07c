package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"agent-market/internal/adapter/store/sqlite"
	"agent-market/internal/adapter/vectorindex"
	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and index consistency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runDoctor(ctx, cmd.OutOrStdout(), opts.configPath)
		},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(ctx context.Context, w io.Writer, cfgPath string) error {
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Credentials", Fn: checkCredentials},
		{Name: "Record store", Fn: checkStore},
		{Name: "Vector index", Fn: checkIndex},
	}

	fmt.Fprintln(w, "market doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     "Fix config.yaml or the MARKET_* environment overrides",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("loaded from %s", cfgPath)}
	}
}

func checkCredentials(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	var sealed []string
	for name, v := range map[string]string{
		"embedding.api_key": cfg.Embedding.APIKey,
		"llm.api_key":       cfg.LLM.APIKey,
	} {
		if strings.HasPrefix(v, "enc:") {
			sealed = append(sealed, name)
		}
	}
	if len(sealed) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("sealed values were not decrypted: %s", strings.Join(sealed, ", ")),
			Fix:     "Export MARKET_CONFIG_KEY with the passphrase used by 'market seal'",
		}
	}
	if cfg.Embedding.Provider == "bedrock" || cfg.LLM.Provider == "bedrock" {
		return CheckResult{Status: StatusPass, Message: "bedrock uses the default AWS credential chain"}
	}
	return CheckResult{Status: StatusPass, Message: "api keys present"}
}

func checkStore(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Check store.path and its directory permissions"}
	}
	defer db.Close()
	return CheckResult{Status: StatusPass, Message: cfg.Store.Path}
}

// checkIndex compares the stored index length with the agent registry.
func checkIndex(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	blobs, err := newBlobStore(ctx, cfg.Blob, discardLogger())
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	snap, err := vectorindex.Load(ctx, blobs, cfg.Blob.Key, cfg.Embedding.Dimensions)
	if err != nil {
		fix := ""
		if errors.Is(err, domain.ErrCorruptIndex) || errors.Is(err, domain.ErrDimensionMismatch) {
			fix = "Run 'market reset --yes' and re-register agents"
		}
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: fix}
	}

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	defer db.Close()
	profiles, err := sqlite.NewAgentStore(db).List(ctx)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}

	msg := fmt.Sprintf("%d vectors, %d agents (%s)", snap.Index.Len(), len(profiles), blobs.Name())
	if snap.Index.Len() < len(profiles) {
		return CheckResult{
			Status:  StatusWarn,
			Message: msg + ", some agents have no vector",
			Fix:     "Re-register the affected agents",
		}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}
