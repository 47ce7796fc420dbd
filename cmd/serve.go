package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-frontier/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the discovery HTTP service",
		Long: `Starts the HTTP API and the worker pool. Discovery tasks submitted to
POST /v1/discoveries are queued, run in the background and stored for
retrieval. The service drains and exits on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := stateFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, st.cfg, st.logger)
			if err != nil {
				return fmt.Errorf("initialize service: %w", err)
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					st.logger.Warn("close service", zap.Error(cerr))
				}
			}()
			return a.Run(ctx)
		},
	}
}
