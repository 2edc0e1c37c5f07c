package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agent-market/internal/adapter/gateway"
	"agent-market/internal/infra/logger"
	"agent-market/internal/infra/middleware"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				if addr != "" {
					a.cfg.Gateway.Addr = addr
				}
				srv := newGateway(ctx, a)
				return srv.Start(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides gateway.addr)")
	return cmd
}

// newGateway builds the gateway server over the wired engines.
func newGateway(ctx context.Context, a *app) *gateway.Server {
	gcfg := a.cfg.Gateway
	log := logger.Component(a.logger, "gateway")

	srv := gateway.NewServer(gateway.NewAuthenticator(gcfg.Tokens), gcfg.Addr, log)
	srv.Use(middleware.RequestLog(log), middleware.SecurityHeaders)
	if gcfg.RequestsPerMin > 0 {
		srv.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: gcfg.RequestsPerMin,
			BurstSize:      gcfg.BurstSize,
			TrustedProxies: gcfg.TrustedProxies,
			Rejected:       gateway.RejectRateLimited,
		}))
	}
	if len(gcfg.Tokens) == 0 {
		log.Warn("gateway has no tokens configured, every client is admitted as admin")
	}

	deps := gateway.HandlerDeps{
		Market:      a.matching,
		Negotiation: a.negotiation,
		Admin:       a.reset,
		Logger:      log,
	}
	gateway.RegisterDefaultHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps)
	return srv
}
