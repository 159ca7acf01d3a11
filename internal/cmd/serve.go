package cmd

import (
	"context"
	"errors"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcoord/api"
	"github.com/hupe1980/agentcoord/coordinator"
)

func newServeCommand(st *cliState) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Spawn the configured agents and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, err := st.cfg.Logger()
			if err != nil {
				return err
			}
			coord, store, err := newCoordinator(ctx, st.cfg)
			if err != nil {
				return err
			}
			defer closeAll(coord, store)

			dist := st.cfg.AgentDistribution()
			if dist == nil {
				dist = maps.Clone(coordinator.DefaultDistribution)
			}
			if _, err := coord.SpawnAgents(ctx, 0, dist); err != nil {
				return err
			}

			srv := api.New(coord, func(o *api.Options) {
				o.RequestTimeout = st.cfg.Strategy.SolveTimeout
				o.Logger = logger
			})
			if listen == "" {
				listen = st.cfg.API.Listen
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Listen(listen) }()
			logger.Info("Serving API", "listen", listen)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides api.listen)")
	return cmd
}
