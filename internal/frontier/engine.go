// Package frontier discovers the same-site URLs reachable from a seed. It
// seeds the frontier from sitemaps, expands it breadth-first one level at a
// time under global and per-host concurrency caps, and records the
// traversal graph and run statistics.
package frontier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

// Default fetch timeouts and depth.
const (
	DefaultDiscoveryTimeout  = 30 * time.Second
	DefaultValidationTimeout = 10 * time.Second
	DefaultMaxDepth          = 3
)

// Config tunes an Engine. Zero values fall back to the defaults.
type Config struct {
	GlobalConcurrency  int
	PerHostConcurrency int
	DiscoveryTimeout   time.Duration
	ValidationTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.GlobalConcurrency <= 0 {
		c.GlobalConcurrency = DefaultGlobalConcurrency
	}
	if c.PerHostConcurrency <= 0 {
		c.PerHostConcurrency = DefaultPerHostConcurrency
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.ValidationTimeout <= 0 {
		c.ValidationTimeout = DefaultValidationTimeout
	}
	return c
}

// Observer receives run-level signals, typically for metrics export.
type Observer interface {
	ObserveFetch(outcome string, d time.Duration)
	ObservePermitWait(d time.Duration)
	ObserveRun(mode crawler.Mode, outcome string, total int, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, time.Duration) {}
func (nopObserver) ObservePermitWait(time.Duration) {}
func (nopObserver) ObserveRun(crawler.Mode, string, int, time.Duration) {}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// Request describes one discovery run.
type Request struct {
	Seed            RawURL
	MaxDepth        int
	ExcludePatterns []string
	Mode            crawler.Mode
	// OnProgress, when set, is called after each processed URL and at the
	// start of every level. It must not block.
	OnProgress func(crawler.Progress)
}

// Engine runs discovery sessions against an injected Fetcher. An Engine
// holds no per-run state and may serve concurrent Discover calls.
type Engine struct {
	fetcher  crawler.Fetcher
	cfg      Config
	logger   *zap.Logger
	observer Observer
}

// NewEngine builds an Engine.
func NewEngine(fetcher crawler.Fetcher, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		fetcher:  fetcher,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover runs one discovery. Only configuration errors are returned (an
// *InvalidSeedError or ErrInvalidMode); fetch and parse failures are
// reported through the result stats.
func (e *Engine) Discover(ctx context.Context, req Request) (crawler.DiscoveryResult, error) {
	mode, err := parseMode(req.Mode)
	if err != nil {
		e.observer.ObserveRun(crawler.Mode("unknown"), "invalid_mode", 0, 0)
		return crawler.DiscoveryResult{}, err
	}
	req.Mode = mode
	if req.Mode == crawler.ModeSingle {
		return e.DiscoverSingle(ctx, req.Seed)
	}
	s, err := e.NewSession(req)
	if err != nil {
		e.observer.ObserveRun(req.Mode, "invalid_seed", 0, 0)
		return crawler.DiscoveryResult{}, err
	}
	res := s.Run(ctx)
	e.observer.ObserveRun(req.Mode, "ok", res.Total, time.Duration(res.Stats.ElapsedMs)*time.Millisecond)
	return res, nil
}

// DiscoverSingle validates seed with one fetch and returns a one-node
// result without consulting sitemaps or following links. An unreachable
// seed yields an empty result whose stats carry the failure.
func (e *Engine) DiscoverSingle(ctx context.Context, seed RawURL) (crawler.DiscoveryResult, error) {
	started := time.Now()
	u, err := e.normalizeSeed(seed)
	if err != nil {
		e.observer.ObserveRun(crawler.ModeSingle, "invalid_seed", 0, 0)
		return crawler.DiscoveryResult{}, err
	}
	logger := e.logger.With(zap.String("seed", string(u)), zap.String("mode", string(crawler.ModeSingle)))
	stats := newStats(started)

	fctx, cancel := context.WithTimeout(ctx, e.cfg.ValidationTimeout)
	defer cancel()
	fetchStart := time.Now()
	_, ferr := e.fetcher.Fetch(fctx, crawler.FetchRequest{URL: string(u), Timeout: e.cfg.ValidationTimeout})
	d := time.Since(fetchStart)
	outcome := stats.recordFetch(string(u), d, ferr)
	e.observer.ObserveFetch(outcome, d)
	finished := time.Now()
	if ferr != nil {
		logger.Warn("seed validation failed", zap.Error(ferr))
		e.observer.ObserveRun(crawler.ModeSingle, "unreachable", 0, finished.Sub(started))
		return crawler.DiscoveryResult{
			Seed:  string(u),
			Mode:  crawler.ModeSingle,
			URLs:  []string{},
			Graph: crawler.Graph{Nodes: []crawler.Node{}, Edges: []crawler.Edge{}},
			Stats: stats.snapshot(finished, crawler.URLStats{DiscoveredByDomain: map[string]int{}}),
		}, nil
	}

	elapsed := finished.Sub(started).Seconds()
	urlStats := crawler.URLStats{
		TotalDiscovered:    1,
		TotalProcessed:     1,
		DiscoveredByDomain: map[string]int{u.Host(): 1},
		ProcessingTime:     elapsed,
	}
	if elapsed > 0 {
		urlStats.URLsPerSecond = 1 / elapsed
	}
	res := crawler.DiscoveryResult{
		Seed:  string(u),
		Mode:  crawler.ModeSingle,
		URLs:  []string{string(u)},
		Graph: crawler.Graph{Nodes: []crawler.Node{{ID: string(u), Depth: 0}}, Edges: []crawler.Edge{}},
		Total: 1,
		Stats: stats.snapshot(finished, urlStats),
	}
	logger.Info("seed validated", zap.Duration("elapsed", finished.Sub(started)))
	e.observer.ObserveRun(crawler.ModeSingle, "ok", 1, finished.Sub(started))
	return res, nil
}

func (e *Engine) normalizeSeed(seed RawURL) (NormalizedURL, error) {
	u, ok := Normalize(seed)
	if !ok {
		return "", &InvalidSeedError{Seed: seed.String(), Reason: "cannot be normalized"}
	}
	if u.Host() == "" {
		return "", &InvalidSeedError{Seed: seed.String(), Reason: "no resolvable host"}
	}
	return u, nil
}
