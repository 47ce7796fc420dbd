package frontier

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

func exampleSite() *fakeSite {
	return newFakeSite().
		html("https://example.com/", "/a", "/b").
		html("https://example.com/a", "/c").
		html("https://example.com/b").
		html("https://example.com/c")
}

// TestDiscoverDepthBoundary pins the maxDepth boundary: /c sits at depth 2
// and is only returned when maxDepth reaches 2.
func TestDiscoverDepthBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		maxDepth int
		want     []string
	}{
		{maxDepth: 1, want: []string{"https://example.com/", "https://example.com/a", "https://example.com/b"}},
		{maxDepth: 2, want: []string{"https://example.com/", "https://example.com/a", "https://example.com/b", "https://example.com/c"}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("max_depth_%d", tc.maxDepth), func(t *testing.T) {
			t.Parallel()
			site := exampleSite()
			e := NewEngine(site, Config{})
			res, err := e.Discover(context.Background(), Request{
				Seed:     FromString("https://example.com"),
				MaxDepth: tc.maxDepth,
				Mode:     crawler.ModeFull,
			})
			require.NoError(t, err)
			require.Equal(t, tc.want, res.URLs)
			require.Equal(t, len(tc.want), res.Total)
			require.Equal(t, tc.maxDepth, res.MaxDepthReached)
		})
	}
}

// TestDiscoverDepthMinimality verifies nodes keep the shortest hop count
// even when reachable along longer paths.
func TestDiscoverDepthMinimality(t *testing.T) {
	t.Parallel()

	site := newFakeSite().
		html("https://example.com/", "/a", "/b").
		html("https://example.com/a", "/b", "/c").
		html("https://example.com/b", "/c", "/").
		html("https://example.com/c", "/d", "/a").
		html("https://example.com/d", "/")

	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("example.com"), MaxDepth: 5, Mode: crawler.ModeQuick})
	require.NoError(t, err)

	require.Equal(t, map[string]int{
		"https://example.com/":  0,
		"https://example.com/a": 1,
		"https://example.com/b": 1,
		"https://example.com/c": 2,
		"https://example.com/d": 3,
	}, nodeDepths(res.Graph))
	require.Len(t, res.Graph.Nodes, 5)
}

// TestDiscoverNoDuplicateFetches verifies each URL is fetched at most once
// even when many pages link to it concurrently.
func TestDiscoverNoDuplicateFetches(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	var hub []string
	for i := 0; i < 20; i++ {
		hub = append(hub, fmt.Sprintf("/p%d", i))
	}
	site.html("https://example.com/", hub...)
	for i := 0; i < 20; i++ {
		site.html(fmt.Sprintf("https://example.com/p%d", i), "/", "/shared", "/p0", "/p19/")
	}
	site.html("https://example.com/shared", "/")

	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("https://example.com/"), MaxDepth: 3})
	require.NoError(t, err)
	require.Equal(t, 22, res.Total)

	for url, n := range site.pageHits() {
		require.Equal(t, 1, n, url)
	}
	require.Equal(t, 1, site.hitCount("https://example.com/shared"))
}

// TestDiscoverDomainScoping verifies foreign hosts only appear as external
// edges while subdomains count as same-domain.
func TestDiscoverDomainScoping(t *testing.T) {
	t.Parallel()

	site := newFakeSite().
		html("https://example.com/", "https://blog.example.com/post", "https://other.org/page", "https://notexample.com/x").
		html("https://blog.example.com/post", "https://other.org/deeper")

	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("https://example.com"), MaxDepth: 3})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"https://example.com/", "https://blog.example.com/post"}, res.URLs)
	assert.Zero(t, site.hitCount("https://other.org/page"))

	kinds := map[string]crawler.EdgeKind{}
	for _, edge := range res.Graph.Edges {
		kinds[edge.Target] = edge.Kind
	}
	assert.Equal(t, crawler.EdgeSameDomain, kinds["https://blog.example.com/post"])
	assert.Equal(t, crawler.EdgeExternal, kinds["https://other.org/page"])
	assert.Equal(t, crawler.EdgeExternal, kinds["https://notexample.com/x"])
	assert.Equal(t, crawler.EdgeExternal, kinds["https://other.org/deeper"])
	assert.Equal(t, 2, res.Stats.URLs.DiscoveredByDomain["example.com"]+res.Stats.URLs.DiscoveredByDomain["blog.example.com"])
}

// TestDiscoverExclusion verifies excluded paths stay out of the result and
// the frontier but keep their edges. Invalid patterns are dropped alone.
func TestDiscoverExclusion(t *testing.T) {
	t.Parallel()

	site := newFakeSite().
		html("https://example.com/", "/private/x", "/public").
		html("https://example.com/private/x", "/private/y").
		html("https://example.com/public")

	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{
		Seed:            FromString("https://example.com"),
		MaxDepth:        3,
		ExcludePatterns: []string{"([", "^/private/"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/", "https://example.com/public"}, res.URLs)
	assert.Zero(t, site.hitCount("https://example.com/private/x"))
	assert.Contains(t, res.Graph.Edges, crawler.Edge{
		Source: "https://example.com/",
		Target: "https://example.com/private/x",
		Kind:   crawler.EdgeSameDomain,
	})
}

// TestDiscoverDuplicateEdgesKept verifies repeated links produce repeated
// edges when they come from different pages.
func TestDiscoverDuplicateEdgesKept(t *testing.T) {
	t.Parallel()

	site := newFakeSite().
		html("https://example.com/", "/a", "/b").
		html("https://example.com/a", "/target").
		html("https://example.com/b", "/target").
		html("https://example.com/target")

	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("https://example.com"), MaxDepth: 2})
	require.NoError(t, err)

	count := 0
	for _, edge := range res.Graph.Edges {
		if edge.Target == "https://example.com/target" {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

// TestDiscoverQuickModeBound verifies quick mode stops near the ceiling on
// a large site.
func TestDiscoverQuickModeBound(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	var pages []string
	for i := 0; i < 500; i++ {
		pages = append(pages, fmt.Sprintf("/page/%d", i))
	}
	site.html("https://example.com/", pages...)
	for i := 0; i < 500; i++ {
		site.html(fmt.Sprintf("https://example.com/page/%d", i), pages[(i+1)%500])
	}

	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("https://example.com"), MaxDepth: 3, Mode: crawler.ModeQuick})
	require.NoError(t, err)
	require.LessOrEqual(t, res.Total, crawler.QuickModeLimit)
	require.Positive(t, res.Total)
	require.Zero(t, site.hitCount("https://example.com/robots.txt"))
}

// TestDiscoverGracefulSitemapAbsence verifies 404s for robots.txt and every
// sitemap path still yield a BFS result containing the seed.
func TestDiscoverGracefulSitemapAbsence(t *testing.T) {
	t.Parallel()

	site := newFakeSite().html("https://example.com/")
	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("https://example.com"), MaxDepth: 3})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/"}, res.URLs)
	require.Equal(t, 1, site.hitCount("https://example.com/robots.txt"))
	require.Equal(t, 1+len(ConventionalSitemapPaths), res.Stats.Requests.Errors)
}

// TestDiscoverSeedsFromSitemap verifies sitemap URLs become depth-0 nodes
// and foreign sitemap entries are ignored.
func TestDiscoverSeedsFromSitemap(t *testing.T) {
	t.Parallel()

	site := exampleSite().
		xml("https://example.com/sitemap.xml", urlset(
			"https://example.com/from-sitemap",
			"https://example.com/c",
			"https://foreign.net/page",
		)).
		html("https://example.com/from-sitemap")

	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("https://example.com"), MaxDepth: 1})
	require.NoError(t, err)

	depths := nodeDepths(res.Graph)
	assert.Equal(t, 0, depths["https://example.com/"])
	assert.Equal(t, 0, depths["https://example.com/from-sitemap"])
	assert.Equal(t, 0, depths["https://example.com/c"])
	assert.Equal(t, 1, depths["https://example.com/a"])
	assert.NotContains(t, res.URLs, "https://foreign.net/page")
	assert.Equal(t, 1, site.hitCount("https://example.com/from-sitemap"))
	assert.Equal(t, "https://example.com/", res.Graph.Nodes[0].ID)
}

// TestDiscoverFetchFailuresAreAbsorbed verifies failing pages are recorded
// in stats and do not abort the run.
func TestDiscoverFetchFailuresAreAbsorbed(t *testing.T) {
	t.Parallel()

	site := newFakeSite().
		html("https://example.com/", "/ok", "/broken", "/slow").
		html("https://example.com/ok", "/deeper").
		raw("https://example.com/broken", fakePage{err: errors.New("connection reset")}).
		raw("https://example.com/slow", fakePage{delay: time.Second, contentType: "text/html"}).
		html("https://example.com/deeper")

	e := NewEngine(site, Config{DiscoveryTimeout: 50 * time.Millisecond})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("https://example.com"), MaxDepth: 2, Mode: crawler.ModeQuick})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"https://example.com/",
		"https://example.com/ok",
		"https://example.com/broken",
		"https://example.com/slow",
		"https://example.com/deeper",
	}, res.URLs)
	assert.Equal(t, 1, res.Stats.Requests.Errors)
	assert.Equal(t, 1, res.Stats.Requests.Timeouts)
	assert.Equal(t, 4, res.Stats.Requests.Total)
	assert.Contains(t, res.Stats.Failures, "https://example.com/broken")
	assert.Equal(t, "timeout", res.Stats.Failures["https://example.com/slow"])
	assert.Equal(t, 4, res.Stats.URLs.TotalProcessed)
	assert.Equal(t, 1, res.Stats.URLs.Pending)
}

// TestDiscoverRespectsPerHostCap verifies the engine never exceeds the
// per-host concurrency cap.
func TestDiscoverRespectsPerHostCap(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	var pages []string
	for i := 0; i < 30; i++ {
		p := fmt.Sprintf("/p%d", i)
		pages = append(pages, p)
		site.raw("https://example.com"+p, fakePage{body: "<html></html>", contentType: "text/html", delay: 5 * time.Millisecond})
	}
	site.html("https://example.com/", pages...)

	e := NewEngine(site, Config{GlobalConcurrency: 10, PerHostConcurrency: 2})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("https://example.com"), MaxDepth: 2, Mode: crawler.ModeQuick})
	require.NoError(t, err)
	require.Equal(t, 31, res.Total)

	site.mu.Lock()
	defer site.mu.Unlock()
	require.LessOrEqual(t, site.maxInflight["example.com"], 2)
	require.LessOrEqual(t, site.totalMax, 10)
}

// TestDiscoverInvalidSeed verifies configuration errors cross the boundary.
func TestDiscoverInvalidSeed(t *testing.T) {
	t.Parallel()

	e := NewEngine(newFakeSite(), Config{})
	for _, seed := range []RawURL{FromString(""), FromString("https://"), FromString("http://:80/x"), {}} {
		_, err := e.Discover(context.Background(), Request{Seed: seed, MaxDepth: 1})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidSeed)
		var ise *InvalidSeedError
		require.True(t, errors.As(err, &ise))
	}
}

// TestDiscoverUnknownMode verifies a mode outside the enum is rejected
// before anything is fetched.
func TestDiscoverUnknownMode(t *testing.T) {
	t.Parallel()

	site := exampleSite()
	e := NewEngine(site, Config{})
	_, err := e.Discover(context.Background(), Request{Seed: FromString("example.com"), MaxDepth: 2, Mode: "deep"})
	require.ErrorIs(t, err, ErrInvalidMode)
	require.NotErrorIs(t, err, ErrInvalidSeed)
	require.Empty(t, site.pageHits())

	_, err = e.NewSession(Request{Seed: FromString("example.com"), Mode: "deep"})
	require.ErrorIs(t, err, ErrInvalidMode)

	res, err := e.Discover(context.Background(), Request{Seed: FromString("example.com"), MaxDepth: 1, Mode: " Quick "})
	require.NoError(t, err)
	require.Equal(t, crawler.ModeQuick, res.Mode)
}

// TestDiscoverZeroDepth verifies maxDepth 0 returns the seed unfetched.
func TestDiscoverZeroDepth(t *testing.T) {
	t.Parallel()

	site := exampleSite()
	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("example.com"), MaxDepth: 0, Mode: crawler.ModeQuick})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/"}, res.URLs)
	require.Zero(t, site.hitCount("https://example.com/"))
}

// TestDiscoverSingleMode verifies single mode fetches exactly the seed.
func TestDiscoverSingleMode(t *testing.T) {
	t.Parallel()

	site := exampleSite()
	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{Seed: FromLink(LinkRecord{URL: "example.com/a/"}), Mode: crawler.ModeSingle, MaxDepth: 3})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a"}, res.URLs)
	require.Equal(t, []crawler.Node{{ID: "https://example.com/a", Depth: 0}}, res.Graph.Nodes)
	require.Empty(t, res.Graph.Edges)
	require.Equal(t, 1, res.Total)
	require.Equal(t, map[string]int{"https://example.com/a": 1}, site.pageHits())
}

// TestDiscoverSingleModeUnreachable verifies an unreachable seed is an
// empty result, not an error.
func TestDiscoverSingleModeUnreachable(t *testing.T) {
	t.Parallel()

	e := NewEngine(newFakeSite(), Config{})
	res, err := e.DiscoverSingle(context.Background(), FromString("https://example.com/missing"))
	require.NoError(t, err)
	require.Empty(t, res.URLs)
	require.Zero(t, res.Total)
	require.Equal(t, 1, res.Stats.Requests.Errors)
}

// TestDiscoverProgressCallback verifies progress reports reach the final
// counters. Callbacks from concurrent workers may arrive out of order, so
// the peak of each counter is compared.
func TestDiscoverProgressCallback(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		last crawler.Progress
		n    int
	)
	e := NewEngine(exampleSite(), Config{})
	_, err := e.Discover(context.Background(), Request{
		Seed:     FromString("https://example.com"),
		MaxDepth: 2,
		Mode:     crawler.ModeQuick,
		OnProgress: func(p crawler.Progress) {
			mu.Lock()
			defer mu.Unlock()
			last.CurrentDepth = max(last.CurrentDepth, p.CurrentDepth)
			last.Discovered = max(last.Discovered, p.Discovered)
			last.Processed = max(last.Processed, p.Processed)
			n++
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Positive(t, n)
	require.Equal(t, 4, last.Discovered)
	require.Equal(t, 3, last.Processed)
	require.Equal(t, 1, last.CurrentDepth)
}

// TestSessionBookkeeping verifies the frontier helpers on a fresh session.
func TestSessionBookkeeping(t *testing.T) {
	t.Parallel()

	e := NewEngine(newFakeSite(), Config{})
	s, err := e.NewSession(Request{Seed: FromString("example.com"), MaxDepth: 1})
	require.NoError(t, err)

	s.mu.Lock()
	s.admitLocked(s.Seed(), 0)
	s.admitLocked("https://example.com/x", 1)
	s.mu.Unlock()

	require.Equal(t, []NormalizedURL{"https://example.com/", "https://example.com/x"}, s.Unprocessed())
	require.True(t, s.MarkProcessed("https://example.com/"))
	require.False(t, s.MarkProcessed("https://example.com/"))
	require.False(t, s.MarkProcessed("https://example.com/unknown"))
	require.Equal(t, []NormalizedURL{"https://example.com/x"}, s.Unprocessed())

	stats := s.URLStats()
	require.Equal(t, 2, stats.TotalDiscovered)
	require.Equal(t, 1, stats.TotalProcessed)
	require.Equal(t, 1, stats.Pending)
	require.Equal(t, map[string]int{"example.com": 2}, stats.DiscoveredByDomain)
}

// TestConcurrentDiscoveriesIndependent verifies two runs on one engine do
// not share state.
func TestConcurrentDiscoveriesIndependent(t *testing.T) {
	t.Parallel()

	site := exampleSite().
		html("https://other.com/", "/x").
		html("https://other.com/x")
	e := NewEngine(site, Config{})

	var wg sync.WaitGroup
	results := make([]crawler.DiscoveryResult, 2)
	for i, seed := range []string{"https://example.com", "https://other.com"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Discover(context.Background(), Request{Seed: FromString(seed), MaxDepth: 2, Mode: crawler.ModeQuick})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, results[0].Total)
	assert.Equal(t, []string{"https://other.com/", "https://other.com/x"}, results[1].URLs)
}

// TestDiscoverResolvesAgainstServedURL verifies relative links on a
// directory page resolve below the directory the page was served from.
func TestDiscoverResolvesAgainstServedURL(t *testing.T) {
	t.Parallel()

	site := newFakeSite().
		raw("https://example.com/docs", fakePage{
			body:        linksPage("intro", "guide/setup", "../about"),
			contentType: "text/html",
			finalURL:    "https://example.com/docs/",
		}).
		html("https://example.com/docs/intro").
		html("https://example.com/docs/guide/setup").
		html("https://example.com/about")

	e := NewEngine(site, Config{})
	res, err := e.Discover(context.Background(), Request{
		Seed:     FromString("https://example.com/docs/"),
		MaxDepth: 2,
		Mode:     crawler.ModeQuick,
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/docs",
		"https://example.com/docs/guide/setup",
		"https://example.com/docs/intro",
	}, res.URLs)
	require.Empty(t, res.Stats.Failures)
	require.Zero(t, site.hitCount("https://example.com/intro"))
}

// TestDiscoverLevelFanOutBounded verifies a wide level does not start one
// goroutine per URL. It runs alone so the goroutine count is meaningful.
func TestDiscoverLevelFanOutBounded(t *testing.T) {
	const width = 3000
	hrefs := make([]string, width)
	for i := range width {
		hrefs[i] = fmt.Sprintf("/p/%d", i)
	}
	site := newFakeSite().html("https://example.com/", hrefs...)

	var peakMu sync.Mutex
	peak := 0
	fetcher := crawler.FetcherFunc(func(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
		n := runtime.NumGoroutine()
		peakMu.Lock()
		if n > peak {
			peak = n
		}
		peakMu.Unlock()
		return site.Fetch(ctx, req)
	})

	baseline := runtime.NumGoroutine()
	e := NewEngine(fetcher, Config{GlobalConcurrency: 2, PerHostConcurrency: 2})
	res, err := e.Discover(context.Background(), Request{Seed: FromString("example.com"), MaxDepth: 2, Mode: crawler.ModeFull})
	require.NoError(t, err)
	require.Equal(t, width+1, res.Total)

	peakMu.Lock()
	defer peakMu.Unlock()
	require.Less(t, peak-baseline, 100)
}
