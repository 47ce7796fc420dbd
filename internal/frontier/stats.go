package frontier

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

// Timing series recorded per run.
const (
	TimingFetch             = "fetch"
	TimingSitemapProcessing = "sitemap_processing"
	TimingSitemapDiscovery  = "sitemap_discovery"
	TimingHTMLExtraction    = "html_extraction"
	TimingBatchProcessing   = "batch_processing"
)

// Fetch outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Stats accumulates counters and timings for one run. Safe for concurrent use.
type Stats struct {
	mu         sync.Mutex
	started    time.Time
	requests   crawler.RequestCounters
	timings    map[string][]float64
	failures   map[string]string
	fetchTotal time.Duration
	fetchCount int
}

func newStats(started time.Time) *Stats {
	return &Stats{
		started:  started,
		timings:  make(map[string][]float64),
		failures: make(map[string]string),
	}
}

// classifyFetchError maps a fetch error to an outcome label.
func classifyFetchError(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeError
}

func (s *Stats) recordFetch(url string, d time.Duration, err error) string {
	outcome := classifyFetchError(err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests.Total++
	s.fetchTotal += d
	s.fetchCount++
	s.timings[TimingFetch] = append(s.timings[TimingFetch], d.Seconds())
	switch outcome {
	case OutcomeTimeout:
		s.requests.Timeouts++
		s.failures[url] = "timeout"
	case OutcomeError:
		s.requests.Errors++
		s.failures[url] = err.Error()
	}
	return outcome
}

func (s *Stats) observe(series string, d time.Duration) {
	s.mu.Lock()
	s.timings[series] = append(s.timings[series], d.Seconds())
	s.mu.Unlock()
}

func (s *Stats) incXMLErrors() {
	s.mu.Lock()
	s.requests.XMLErrors++
	s.mu.Unlock()
}

func (s *Stats) incProcessingErrors() {
	s.mu.Lock()
	s.requests.ProcessingErrors++
	s.mu.Unlock()
}

func (s *Stats) incExtractionErrors() {
	s.mu.Lock()
	s.requests.ExtractionErrors++
	s.mu.Unlock()
}

// Requests returns a copy of the request counters.
func (s *Stats) Requests() crawler.RequestCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Stats) snapshot(finished time.Time, urls crawler.URLStats) crawler.DiscoveryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := crawler.DiscoveryStats{
		Requests:   s.requests,
		Timings:    make(map[string][]float64, len(s.timings)),
		ElapsedMs:  finished.Sub(s.started).Milliseconds(),
		URLs:       urls,
		StartedAt:  s.started,
		FinishedAt: finished,
	}
	for k, v := range s.timings {
		out.Timings[k] = append([]float64(nil), v...)
	}
	if len(s.failures) > 0 {
		out.Failures = make(map[string]string, len(s.failures))
		for k, v := range s.failures {
			out.Failures[k] = v
		}
	}
	if s.fetchCount > 0 {
		out.AvgFetchMs = float64(s.fetchTotal) / float64(time.Millisecond) / float64(s.fetchCount)
	}
	return out
}
