package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/chatops/pkg/api"
	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
	"github.com/Mindburn-Labs/chatops/pkg/transport"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /interactions and GET /healthz",
		Long: `Runs the interactions HTTP server. Deferred responses are completed by
posting follow-ups to FOLLOWUP_BASE_URL when APPLICATION_ID is set, or by
writing them to stdout as JSON lines otherwise.

With CLEANUP_INTERVAL set, expired state and conversations are swept
periodically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(cmd.Context()))

			if addr == "" {
				addr = ":" + a.cfg.Port
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return serve(cmd.Context(), a, ln, followUpSender(a, cmd))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	return cmd
}

func followUpSender(a *app, cmd *cobra.Command) dispatcher.FollowUpSender {
	if a.cfg.FollowUp.ApplicationID == "" {
		a.logger.Warn("APPLICATION_ID not set, follow-ups are written to stdout")
		return transport.NewWriterSender(cmd.OutOrStdout())
	}
	return transport.NewWebhookSender(a.cfg.FollowUp.BaseURL, a.cfg.FollowUp.ApplicationID,
		transport.WithLogger(a.logger.With("component", "transport")))
}

// serve runs the HTTP server on ln until ctx is cancelled, then drains
// in-flight requests and follow-ups.
func serve(ctx context.Context, a *app, ln net.Listener, sender dispatcher.FollowUpSender) error {
	limiter := api.NewRateLimiter(a.cfg.APIRPS, a.cfg.APIBurst)
	handler := api.NewHandler(a.dispatcher, sender,
		api.WithReplayCache(api.NewReplayCache(a.state, a.cfg.ReplayTTL)),
		api.WithRateLimiter(limiter),
		api.WithBackend("state", a.state.Backend()),
		api.WithBackend("conversations", a.convs.Backend()),
		api.WithLogger(a.logger.With("component", "api")),
		api.WithBaseContext(context.WithoutCancel(ctx)),
	)
	srv := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(ctx, "listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.sweeper.Start(gctx, a.cfg.CleanupInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.logger.InfoContext(sctx, "shutting down")
		err := srv.Shutdown(sctx)
		handler.Wait()
		return err
	})
	return g.Wait()
}
