package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-frontier/internal/app"
	"github.com/JakeFAU/site-frontier/internal/crawler"
	"github.com/JakeFAU/site-frontier/internal/frontier"
)

type discoverOptions struct {
	exclude []string
	output  string
}

func newDiscoverCmd(st *rootState) *cobra.Command {
	opts := &discoverOptions{}
	cmd := &cobra.Command{
		Use:   "discover <seed>",
		Short: "Run one discovery and print the result as JSON",
		Long: `Resolves the sitemaps of the seed's site and crawls it breadth-first,
then writes the discovery result (URLs, link graph and stats) as JSON to
stdout or to --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.Int("max-depth", 3, "maximum link depth from the seed")
	flags.String("mode", string(crawler.ModeFull), "discovery mode: full, quick or single")
	flags.Int("global-concurrency", 10, "maximum in-flight fetches")
	flags.Int("per-host-concurrency", 3, "maximum in-flight fetches per host")
	flags.Int("max-retries", 0, "retries for transient fetch failures")
	flags.Float64("rps", 0, "per-host requests per second (0 disables pacing)")
	flags.StringArrayVar(&opts.exclude, "exclude", nil, "regex of URL paths to skip (repeatable)")
	flags.StringVarP(&opts.output, "output", "o", "", "write the result to this file instead of stdout")

	mustBind(st.v, "discovery.max_depth_default", flags.Lookup("max-depth"))
	mustBind(st.v, "discovery.mode_default", flags.Lookup("mode"))
	mustBind(st.v, "discovery.global_concurrency", flags.Lookup("global-concurrency"))
	mustBind(st.v, "discovery.per_host_concurrency", flags.Lookup("per-host-concurrency"))
	mustBind(st.v, "http.max_retries", flags.Lookup("max-retries"))
	mustBind(st.v, "rate_limit.rps", flags.Lookup("rps"))
	return cmd
}

func runDiscover(cmd *cobra.Command, seed string, opts *discoverOptions) error {
	st, err := stateFrom(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := st.cfg, st.logger

	mode, err := crawler.ParseMode(cfg.Discovery.ModeDefault)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout := cfg.RunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	engine := app.NewEngine(cfg, app.NewFetcher(cfg), logger)
	result, err := engine.Discover(ctx, frontier.Request{
		Seed:            frontier.FromString(seed),
		MaxDepth:        cfg.Discovery.MaxDepthDefault,
		ExcludePatterns: opts.exclude,
		Mode:            mode,
	})
	if err != nil {
		return fmt.Errorf("discover %s: %w", seed, err)
	}
	logger.Info("discovery finished",
		zap.String("seed", result.Seed),
		zap.String("mode", string(result.Mode)),
		zap.Int("total", result.Total),
		zap.Int("max_depth_reached", result.MaxDepthReached),
	)

	out := cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("close output failed", zap.Error(cerr))
			}
		}()
		out = f
	}
	return writeResult(out, result)
}

func writeResult(w io.Writer, result crawler.DiscoveryResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
