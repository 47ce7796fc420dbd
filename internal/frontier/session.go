package frontier

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

// Session is the state of one discovery run: the discovered and processed
// sets, the graph, the limiter and the stats. Nothing in a Session is
// shared with other runs.
type Session struct {
	engine   *Engine
	seed     NormalizedURL
	mode     crawler.Mode
	maxDepth int
	scope    hostScope
	exclude  exclusions
	limiter  *Limiter
	stats    *Stats
	logger   *zap.Logger
	progress func(crawler.Progress)
	started  time.Time

	mu         sync.Mutex
	discovered map[NormalizedURL]struct{}
	scheduled  map[NormalizedURL]struct{}
	processed  map[NormalizedURL]struct{}
	graph      *urlGraph
	depth      int
}

// NewSession validates req and prepares a run without fetching anything.
func (e *Engine) NewSession(req Request) (*Session, error) {
	seed, err := e.normalizeSeed(req.Seed)
	if err != nil {
		return nil, err
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	maxDepth := req.MaxDepth
	if maxDepth < 0 {
		maxDepth = 0
	}
	logger := e.logger.With(zap.String("seed", string(seed)), zap.String("mode", string(mode)))
	started := time.Now()
	s := &Session{
		engine:     e,
		seed:       seed,
		mode:       mode,
		maxDepth:   maxDepth,
		scope:      newHostScope(seed.Host()),
		exclude:    compileExclusions(req.ExcludePatterns, logger),
		limiter:    NewLimiter(e.cfg.GlobalConcurrency, e.cfg.PerHostConcurrency),
		stats:      newStats(started),
		logger:     logger,
		progress:   req.OnProgress,
		started:    started,
		discovered: make(map[NormalizedURL]struct{}),
		scheduled:  make(map[NormalizedURL]struct{}),
		processed:  make(map[NormalizedURL]struct{}),
		graph:      newURLGraph(),
	}
	return s, nil
}

// Seed returns the normalized seed.
func (s *Session) Seed() NormalizedURL {
	return s.seed
}

// Run executes the discovery and returns its result. Run must be called at
// most once per Session.
func (s *Session) Run(ctx context.Context) crawler.DiscoveryResult {
	s.logger.Info("discovery started",
		zap.Int("max_depth", s.maxDepth),
		zap.Int("exclude_patterns", s.exclude.len()),
	)

	s.mu.Lock()
	s.admitLocked(s.seed, 0)
	s.mu.Unlock()

	if s.mode == crawler.ModeFull {
		s.seedFromSitemaps(ctx)
	}

	frontier := s.Unprocessed()
	depth := 0
	for len(frontier) > 0 && depth < s.maxDepth {
		if ctx.Err() != nil {
			s.logger.Warn("discovery interrupted", zap.Int("depth", depth), zap.Error(ctx.Err()))
			break
		}
		if s.quickLimitReached() {
			s.logger.Info("quick mode limit reached", zap.Int("depth", depth))
			break
		}
		s.setDepth(depth)
		frontier = s.expandLevel(ctx, frontier, depth)
		depth++
	}

	return s.result()
}

func (s *Session) seedFromSitemaps(ctx context.Context) {
	resolver := NewSitemapResolver(
		crawler.FetcherFunc(s.gatedFetch),
		s.engine.cfg.DiscoveryTimeout,
		s.stats,
		s.logger,
	)
	found := resolver.Resolve(ctx, s.seed)
	added := 0
	s.mu.Lock()
	for _, u := range found {
		if !s.scope.contains(u.Host()) || s.exclude.matches(u) {
			continue
		}
		if s.admitLocked(u, 0) {
			added++
		}
	}
	s.mu.Unlock()
	s.logger.Info("frontier seeded from sitemaps", zap.Int("sitemap_urls", len(found)), zap.Int("admitted", added))
	s.reportProgress()
}

// workersPerPermit bounds level fan-out relative to the global fetch cap.
const workersPerPermit = 4

// expandLevel processes every URL of one level concurrently and returns the
// URLs first discovered while doing so.
func (s *Session) expandLevel(ctx context.Context, frontier []NormalizedURL, depth int) []NormalizedURL {
	start := time.Now()
	s.logger.Debug("expanding level", zap.Int("depth", depth), zap.Int("urls", len(frontier)))

	var (
		nextMu sync.Mutex
		next   []NormalizedURL
		g      errgroup.Group
	)
	// Workers beyond the permit count only queue on the limiter; a few per
	// permit keep other hosts busy while one host is saturated.
	g.SetLimit(s.engine.cfg.GlobalConcurrency * workersPerPermit)
	for _, u := range frontier {
		if s.quickLimitReached() {
			break
		}
		if !s.schedule(u) {
			continue
		}
		g.Go(func() error {
			found := s.processURL(ctx, u, depth)
			if len(found) > 0 {
				nextMu.Lock()
				next = append(next, found...)
				nextMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.stats.observe(TimingBatchProcessing, time.Since(start))
	s.logger.Info("level complete",
		zap.Int("depth", depth),
		zap.Int("processed", len(frontier)),
		zap.Int("new_urls", len(next)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return next
}

// processURL fetches u, extracts its links, records edges and admits new
// same-domain URLs at depth+1. Failures contribute no links.
func (s *Session) processURL(ctx context.Context, u NormalizedURL, depth int) []NormalizedURL {
	defer s.reportProgress()
	if s.quickLimitReached() {
		s.MarkProcessed(u)
		return nil
	}

	resp, err := s.gatedFetch(ctx, crawler.FetchRequest{URL: string(u), Timeout: s.engine.cfg.DiscoveryTimeout})
	if err != nil {
		s.logger.Debug("fetch failed", zap.String("url", string(u)), zap.Error(err))
		s.MarkProcessed(u)
		return nil
	}

	extractStart := time.Now()
	links, err := ExtractLinks(pageBase(resp, string(u)), resp.Body)
	s.stats.observe(TimingHTMLExtraction, time.Since(extractStart))
	if err != nil {
		s.stats.incExtractionErrors()
		s.logger.Warn("link extraction failed", zap.String("url", string(u)), zap.Error(err))
		s.MarkProcessed(u)
		return nil
	}

	var fresh []NormalizedURL
	s.mu.Lock()
	for _, link := range links {
		if !s.scope.contains(link.Host()) {
			s.graph.addEdge(u, link, crawler.EdgeExternal)
			continue
		}
		s.graph.addEdge(u, link, crawler.EdgeSameDomain)
		if s.exclude.matches(link) {
			continue
		}
		if s.admitLocked(link, depth+1) {
			fresh = append(fresh, link)
		}
	}
	s.processed[u] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("url processed",
		zap.String("url", string(u)),
		zap.Int("links", len(links)),
		zap.Int("new", len(fresh)),
	)
	return fresh
}

// gatedFetch fetches under a limiter permit and the per-fetch timeout and
// records the outcome. It is the only path to the Fetcher during a run.
func (s *Session) gatedFetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if req.Timeout <= 0 {
		req.Timeout = s.engine.cfg.DiscoveryTimeout
	}
	var host string
	if n, ok := NormalizeString(req.URL); ok {
		host = n.Host()
	}

	waitStart := time.Now()
	release, err := s.limiter.Acquire(ctx, host)
	if err != nil {
		s.stats.recordFetch(req.URL, 0, err)
		return crawler.FetchResponse{}, err
	}
	defer release()
	s.engine.observer.ObservePermitWait(time.Since(waitStart))

	fctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := s.engine.fetcher.Fetch(fctx, req)
	d := time.Since(start)
	outcome := s.stats.recordFetch(req.URL, d, err)
	s.engine.observer.ObserveFetch(outcome, d)
	return resp, err
}

// admitLocked adds u to the discovered set and the graph. It reports false
// when u is already known or the quick-mode ceiling is reached. s.mu must
// be held.
func (s *Session) admitLocked(u NormalizedURL, depth int) bool {
	if _, ok := s.discovered[u]; ok {
		return false
	}
	if s.mode == crawler.ModeQuick && len(s.discovered) >= crawler.QuickModeLimit {
		return false
	}
	s.discovered[u] = struct{}{}
	s.graph.addNode(u, depth)
	return true
}

// schedule claims u for fetching. Each URL is claimed at most once per run.
func (s *Session) schedule(u NormalizedURL) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scheduled[u]; ok {
		return false
	}
	if _, ok := s.processed[u]; ok {
		return false
	}
	s.scheduled[u] = struct{}{}
	return true
}

// MarkProcessed records u as processed. It reports false when u was not
// discovered in this run or was already processed.
func (s *Session) MarkProcessed(u NormalizedURL) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.discovered[u]; !ok {
		return false
	}
	if _, ok := s.processed[u]; ok {
		return false
	}
	s.processed[u] = struct{}{}
	return true
}

// Unprocessed returns the discovered URLs not yet processed, in discovery
// order.
func (s *Session) Unprocessed() []NormalizedURL {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NormalizedURL, 0, len(s.discovered)-len(s.processed))
	for _, n := range s.graph.nodes {
		u := NormalizedURL(n.ID)
		if _, ok := s.processed[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

// Progress returns the current progress counters.
func (s *Session) Progress() crawler.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() crawler.Progress {
	return crawler.Progress{
		CurrentDepth: s.depth,
		Discovered:   len(s.discovered),
		Processed:    len(s.processed),
		Pending:      len(s.discovered) - len(s.processed),
	}
}

// URLStats summarizes the discovered and processed sets.
func (s *Session) URLStats() crawler.URLStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlStatsLocked(time.Now())
}

func (s *Session) urlStatsLocked(now time.Time) crawler.URLStats {
	byDomain := make(map[string]int)
	for u := range s.discovered {
		byDomain[u.Host()]++
	}
	elapsed := now.Sub(s.started).Seconds()
	out := crawler.URLStats{
		TotalDiscovered:    len(s.discovered),
		TotalProcessed:     len(s.processed),
		Pending:            len(s.discovered) - len(s.processed),
		DiscoveredByDomain: byDomain,
		ProcessingTime:     elapsed,
	}
	if elapsed > 0 {
		out.URLsPerSecond = float64(len(s.discovered)) / elapsed
	}
	return out
}

func (s *Session) setDepth(depth int) {
	s.mu.Lock()
	s.depth = depth
	s.mu.Unlock()
	s.reportProgress()
}

func (s *Session) quickLimitReached() bool {
	if s.mode != crawler.ModeQuick {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.discovered) >= crawler.QuickModeLimit
}

func (s *Session) reportProgress() {
	if s.progress == nil {
		return
	}
	s.progress(s.Progress())
}

func (s *Session) result() crawler.DiscoveryResult {
	finished := time.Now()
	s.mu.Lock()
	urls := make([]string, 0, len(s.discovered))
	for u := range s.discovered {
		urls = append(urls, string(u))
	}
	graph := s.graph.snapshot()
	deepest := s.graph.maxDepth()
	urlStats := s.urlStatsLocked(finished)
	s.mu.Unlock()
	slices.Sort(urls)

	res := crawler.DiscoveryResult{
		Seed:            string(s.seed),
		Mode:            s.mode,
		URLs:            urls,
		Graph:           graph,
		Total:           len(urls),
		MaxDepthReached: deepest,
		Stats:           s.stats.snapshot(finished, urlStats),
	}
	s.logger.Info("discovery finished",
		zap.Int("total", res.Total),
		zap.Int("max_depth_reached", res.MaxDepthReached),
		zap.Int("requests", res.Stats.Requests.Total),
		zap.Int("errors", res.Stats.Requests.Errors),
		zap.Int("timeouts", res.Stats.Requests.Timeouts),
		zap.Int64("elapsed_ms", res.Stats.ElapsedMs),
	)
	return res
}
