// Package cmd defines the frontier command line: one-shot discovery runs
// and the long-running discovery service.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-frontier/internal/config"
	"github.com/JakeFAU/site-frontier/internal/logging"
)

// rootState is shared by every subcommand of one root command.
type rootState struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

type stateKeyType struct{}

var stateKey stateKeyType

func stateFrom(ctx context.Context) (*rootState, error) {
	st, ok := ctx.Value(stateKey).(*rootState)
	if !ok || st == nil || st.logger == nil {
		return nil, fmt.Errorf("command state not initialized")
	}
	return st, nil
}

// newRootCmd builds the root command. Each call gets its own viper
// instance so tests can run commands side by side.
func newRootCmd() *cobra.Command {
	st := &rootState{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "Discover the URLs of a website.",
		Long: `frontier maps a website by combining sitemap resolution with a
bounded breadth-first crawl. Run a single discovery from the command line
with "discover", or start the HTTP service with "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(st.v, st.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			st.cfg = cfg
			st.logger = logger
			cmd.SetContext(context.WithValue(cmd.Context(), stateKey, st))
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if st.logger != nil {
				_ = st.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&st.cfgFile, "config", "", "path to a config file (yaml, json or toml)")
	flags.Bool("log-dev", true, "use the development console logger")
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")
	mustBind(st.v, "logging.development", flags.Lookup("log-dev"))
	mustBind(st.v, "logging.level", flags.Lookup("log-level"))

	cmd.AddCommand(newDiscoverCmd(st))
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the root command with a background context.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
