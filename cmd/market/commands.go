package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"agent-market/internal/domain"
	"agent-market/internal/usecase/matching"
	"agent-market/internal/usecase/negotiation"
)

// withApp loads config, wires the app for the command and closes it after fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := wireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// parsePricing turns key=value flags into a pricing map.
func parsePricing(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: price %s=%q is not a number", domain.ErrInvalidInput, k, v)
		}
		out[k] = f
	}
	return out, nil
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var (
		req     matching.RegisterRequest
		role    string
		pricing map[string]string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent and index its description",
		RunE: func(cmd *cobra.Command, _ []string) error {
			prices, err := parsePricing(pricing)
			if err != nil {
				return err
			}
			req.Pricing = prices
			req.Role = domain.Role(role)
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.matching.Register(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&req.AgentID, "agent-id", "", "agent identifier")
	cmd.Flags().StringVar(&req.Description, "description", "", "free-text description that is embedded for matching")
	cmd.Flags().StringSliceVar(&req.Services, "service", nil, "offered service (repeatable)")
	cmd.Flags().StringToStringVar(&pricing, "price", nil, "pricing entry as key=value (repeatable)")
	cmd.Flags().StringVar(&role, "role", "", "buyer or seller (default: derived from the agent id)")
	_ = cmd.MarkFlagRequired("agent-id")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		req  matching.CreateRequest
		role string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Extract a profile from a free-text description and register it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Role = domain.Role(role)
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.matching.Create(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&req.AgentID, "agent-id", "", "agent identifier")
	cmd.Flags().StringVar(&req.Description, "description", "", "free-text description; services and pricing are extracted from it")
	cmd.Flags().StringVar(&role, "role", "", "buyer or seller (default: derived from the agent id)")
	_ = cmd.MarkFlagRequired("agent-id")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	var req matching.FindRequest
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Rank registered agents against a need",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.matching.FindMatches(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&req.Query, "query", "", "what the requester is looking for")
	cmd.Flags().StringVar(&req.AgentID, "agent-id", "", "requesting agent, excluded from results")
	cmd.Flags().IntVar(&req.MaxResults, "max-results", 0, "maximum matches (default from config)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newAgentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect or deactivate registered agents",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <agent-id>",
			Short: "Show an agent profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, a *app) error {
					p, err := a.matching.Agent(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), p)
				})
			},
		},
		&cobra.Command{
			Use:   "deactivate <agent-id>",
			Short: "Exclude an agent from future matches",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, a *app) error {
					if err := a.matching.Deactivate(ctx, args[0]); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s deactivated\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func newNegotiateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "negotiate",
		Short: "Open, advance or show negotiation sessions",
	}

	var open negotiation.OpenRequest
	openCmd := &cobra.Command{
		Use:   "open",
		Short: "Start a negotiation; the agent answers the opening message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.negotiation.Open(ctx, open)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	openCmd.Flags().StringVar(&open.AgentID, "agent-id", "", "agent that answers the opening")
	openCmd.Flags().StringVar(&open.CounterpartID, "counterpart-id", "", "agent that sends the opening")
	openCmd.Flags().StringVar(&open.Message, "message", "", "opening message (default: fixed or composed opening)")
	openCmd.Flags().BoolVar(&open.Smart, "smart", false, "compose the opening from both profiles when --message is empty")
	_ = openCmd.MarkFlagRequired("agent-id")

	var adv negotiation.AdvanceRequest
	advanceCmd := &cobra.Command{
		Use:   "advance",
		Short: "Send the next message in a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.negotiation.Advance(ctx, adv)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	advanceCmd.Flags().StringVar(&adv.SessionID, "session-id", "", "session to advance")
	advanceCmd.Flags().StringVar(&adv.AgentID, "agent-id", "", "agent that answers the message")
	advanceCmd.Flags().StringVar(&adv.Message, "message", "", "incoming message")
	_ = advanceCmd.MarkFlagRequired("session-id")
	_ = advanceCmd.MarkFlagRequired("agent-id")
	_ = advanceCmd.MarkFlagRequired("message")

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.negotiation.Session(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sess)
			})
		},
	}

	cmd.AddCommand(openCmd, advanceCmd, showCmd)
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every agent, session and the vector index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("%w: reset is destructive, pass --yes to confirm", domain.ErrInvalidInput)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.reset.Reset(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
