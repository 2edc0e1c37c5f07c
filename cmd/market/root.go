package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"agent-market/internal/infra/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "market",
		Short:         "Agent marketplace: semantic matching and LLM-driven negotiation",
		Long:          "market registers agents with embedded descriptions, ranks them by similarity to a need, and runs turn-based negotiations whose replies are decided by an LLM.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "path to config.yaml (env MARKET_CONFIG)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newRegisterCmd(opts),
		newCreateCmd(opts),
		newMatchCmd(opts),
		newAgentCmd(opts),
		newNegotiateCmd(opts),
		newResetCmd(opts),
		newSealCmd(),
		newDoctorCmd(opts),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv("MARKET_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
