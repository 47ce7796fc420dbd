package frontier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

type fakePage struct {
	body        string
	contentType string
	delay       time.Duration
	err         error
	// finalURL, when set, is reported as the address the page was served
	// from, as after a redirect.
	finalURL string
}

// fakeSite serves canned pages keyed by exact URL and records hits and
// per-host concurrency.
type fakeSite struct {
	mu          sync.Mutex
	pages       map[string]fakePage
	hits        map[string]int
	inflight    map[string]int
	maxInflight map[string]int
	totalMax    int
	total       int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:       make(map[string]fakePage),
		hits:        make(map[string]int),
		inflight:    make(map[string]int),
		maxInflight: make(map[string]int),
	}
}

func (f *fakeSite) html(url string, hrefs ...string) *fakeSite {
	f.pages[url] = fakePage{body: linksPage(hrefs...), contentType: "text/html; charset=utf-8"}
	return f
}

func (f *fakeSite) xml(url, body string) *fakeSite {
	f.pages[url] = fakePage{body: body, contentType: "application/xml"}
	return f
}

func (f *fakeSite) raw(url string, page fakePage) *fakeSite {
	f.pages[url] = page
	return f
}

func (f *fakeSite) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	host := NormalizedURL(req.URL).Host()
	f.mu.Lock()
	f.hits[req.URL]++
	f.inflight[host]++
	f.total++
	if f.inflight[host] > f.maxInflight[host] {
		f.maxInflight[host] = f.inflight[host]
	}
	if f.total > f.totalMax {
		f.totalMax = f.total
	}
	page, ok := f.pages[req.URL]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight[host]--
		f.total--
		f.mu.Unlock()
	}()

	if page.delay > 0 {
		select {
		case <-time.After(page.delay):
		case <-ctx.Done():
			return crawler.FetchResponse{}, fmt.Errorf("fake fetch %s: %w", req.URL, ctx.Err())
		}
	}
	if !ok {
		return crawler.FetchResponse{}, fmt.Errorf("fake fetch %s: unexpected status 404", req.URL)
	}
	if page.err != nil {
		return crawler.FetchResponse{}, page.err
	}
	served := req.URL
	if page.finalURL != "" {
		served = page.finalURL
	}
	return crawler.FetchResponse{
		URL:         served,
		StatusCode:  200,
		ContentType: page.contentType,
		Body:        []byte(page.body),
	}, nil
}

func (f *fakeSite) hitCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[url]
}

func (f *fakeSite) pageHits() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.hits))
	for k, v := range f.hits {
		out[k] = v
	}
	return out
}

func linksPage(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func nodeDepths(g crawler.Graph) map[string]int {
	out := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = n.Depth
	}
	return out
}
