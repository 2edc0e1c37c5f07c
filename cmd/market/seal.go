package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
)

func newSealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seal [secret]",
		Short: "Encrypt a secret for config.yaml with MARKET_CONFIG_KEY",
		Long:  "seal prints an enc: value that config loading decrypts with the passphrase in MARKET_CONFIG_KEY. Without an argument the secret is read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("MARKET_CONFIG_KEY")
			if passphrase == "" {
				return fmt.Errorf("%w: MARKET_CONFIG_KEY is not set", domain.ErrInvalidInput)
			}

			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			if secret == "" {
				return fmt.Errorf("%w: secret is empty", domain.ErrInvalidInput)
			}

			sealed, err := config.SealSecret(secret, passphrase)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}
