package frontier

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

// ConventionalSitemapPaths are probed on every origin in addition to the
// robots.txt declarations.
var ConventionalSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemaps/sitemap.xml",
	"/sitemap/sitemap.xml",
}

const (
	xpathSitemapRoot  = "/*[local-name()='urlset' or local-name()='sitemapindex']"
	xpathIndexEntries = "//*[local-name()='sitemap']/*[local-name()='loc']"
	xpathURLEntries   = "//*[local-name()='url']/*[local-name()='loc']"
)

// SitemapResolver collects page URLs from robots.txt sitemap declarations,
// conventional sitemap locations and nested sitemap indexes.
type SitemapResolver struct {
	fetcher crawler.Fetcher
	timeout time.Duration
	stats   *Stats
	logger  *zap.Logger
}

// NewSitemapResolver builds a resolver. stats and logger may be nil.
func NewSitemapResolver(fetcher crawler.Fetcher, timeout time.Duration, stats *Stats, logger *zap.Logger) *SitemapResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = newStats(time.Now())
	}
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	return &SitemapResolver{
		fetcher: fetcher,
		timeout: timeout,
		stats:   stats,
		logger:  logger,
	}
}

// Resolve returns the normalized URLs found in the seed origin's sitemaps.
// It never fails; missing or broken sitemaps yield a partial or empty set.
func (r *SitemapResolver) Resolve(ctx context.Context, seed NormalizedURL) []NormalizedURL {
	start := time.Now()
	origin := seed.Origin()
	run := &sitemapRun{
		resolver: r,
		scope:    newHostScope(seed.Host()),
		visited:  make(map[NormalizedURL]struct{}),
		found:    make(map[NormalizedURL]struct{}),
	}

	candidates := make([]string, 0, len(ConventionalSitemapPaths)+2)
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: origin + "/robots.txt", Timeout: r.timeout})
	if err != nil {
		r.logger.Debug("robots.txt unavailable", zap.String("origin", origin), zap.Error(err))
	} else {
		declared := robotsSitemaps(resp.Body)
		r.logger.Debug("robots.txt sitemaps", zap.String("origin", origin), zap.Int("count", len(declared)))
		candidates = append(candidates, declared...)
	}
	for _, p := range ConventionalSitemapPaths {
		candidates = append(candidates, origin+p)
	}

	var g errgroup.Group
	for _, c := range candidates {
		g.Go(func() error {
			run.walk(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	out := run.results()
	r.stats.observe(TimingSitemapDiscovery, time.Since(start))
	r.logger.Info("sitemap discovery finished",
		zap.String("origin", origin),
		zap.Int("urls", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

// sitemapRun is the state of one Resolve call.
type sitemapRun struct {
	resolver *SitemapResolver
	scope    hostScope

	mu      sync.Mutex
	visited map[NormalizedURL]struct{}
	found   map[NormalizedURL]struct{}
	order   []NormalizedURL
}

// markVisited reports whether loc had not been seen before.
func (s *sitemapRun) markVisited(loc NormalizedURL) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[loc]; ok {
		return false
	}
	s.visited[loc] = struct{}{}
	return true
}

func (s *sitemapRun) add(raw string) {
	n, ok := NormalizeString(raw)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.found[n]; ok {
		return
	}
	s.found[n] = struct{}{}
	s.order = append(s.order, n)
}

func (s *sitemapRun) results() []NormalizedURL {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NormalizedURL, len(s.order))
	copy(out, s.order)
	return out
}

// walk fetches one sitemap document and recurses into index entries
// concurrently. The visited set stops cycles.
func (s *sitemapRun) walk(ctx context.Context, loc string) {
	key, ok := NormalizeString(loc)
	if !ok || !s.markVisited(key) {
		return
	}
	r := s.resolver
	start := time.Now()
	defer func() { r.stats.observe(TimingSitemapProcessing, time.Since(start)) }()

	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: string(key), Timeout: r.timeout})
	if err != nil {
		r.logger.Debug("sitemap fetch failed", zap.String("sitemap", string(key)), zap.Error(err))
		return
	}

	doc, isXML, err := parseSitemapXML(resp)
	if err != nil {
		r.stats.incXMLErrors()
		r.logger.Warn("sitemap xml parse failed", zap.String("sitemap", string(key)), zap.Error(err))
		return
	}
	if !isXML {
		s.collectHTML(pageBase(resp, string(key)), resp.Body)
		return
	}

	var children []string
	for _, n := range xmlquery.Find(doc, xpathIndexEntries) {
		if v := strings.TrimSpace(n.InnerText()); v != "" {
			children = append(children, v)
		}
	}
	leaves := xmlquery.Find(doc, xpathURLEntries)
	for _, n := range leaves {
		s.add(strings.TrimSpace(n.InnerText()))
	}
	r.logger.Debug("sitemap processed",
		zap.String("sitemap", string(key)),
		zap.Int("children", len(children)),
		zap.Int("urls", len(leaves)),
	)

	var g errgroup.Group
	for _, child := range children {
		g.Go(func() error {
			s.walk(ctx, child)
			return nil
		})
	}
	_ = g.Wait()
}

// collectHTML handles sitemaps served as HTML pages: same-domain anchors
// are taken as page URLs.
func (s *sitemapRun) collectHTML(page string, body []byte) {
	r := s.resolver
	base, err := url.Parse(page)
	if err != nil {
		r.stats.incProcessingErrors()
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		r.stats.incProcessingErrors()
		r.logger.Warn("html sitemap parse failed", zap.String("sitemap", page), zap.Error(err))
		return
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, ok := resolveReference(base, href)
		if !ok {
			return
		}
		n, ok := NormalizeString(abs)
		if !ok || !s.scope.contains(n.Host()) {
			return
		}
		s.add(string(n))
	})
}

// parseSitemapXML decides whether resp is an XML sitemap. A response is XML
// when its content type says so or when its body parses with a urlset or
// sitemapindex root. An error is returned only for bodies that claim to be
// XML but do not parse.
func parseSitemapXML(resp crawler.FetchResponse) (*xmlquery.Node, bool, error) {
	declared := strings.Contains(strings.ToLower(resp.ContentType), "xml")
	doc, err := xmlquery.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		if declared {
			return nil, false, err
		}
		return nil, false, nil
	}
	if declared || xmlquery.FindOne(doc, xpathSitemapRoot) != nil {
		return doc, true, nil
	}
	return nil, false, nil
}
