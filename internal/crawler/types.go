package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Mode selects how a discovery run explores a site.
type Mode string

// Supported discovery modes.
const (
	// ModeFull seeds the frontier from sitemaps, then expands breadth-first.
	ModeFull Mode = "full"
	// ModeQuick expands breadth-first and stops near QuickModeLimit URLs.
	ModeQuick Mode = "quick"
	// ModeSingle validates the seed with one fetch and returns it alone.
	ModeSingle Mode = "single"
)

// QuickModeLimit is the discovered-URL ceiling for ModeQuick.
const QuickModeLimit = 100

// ParseMode converts user input into a Mode. Empty input yields ModeFull.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeQuick:
		return ModeQuick, nil
	case ModeSingle:
		return ModeSingle, nil
	default:
		return "", fmt.Errorf("unknown discovery mode %q", raw)
	}
}

// TaskStatus represents the lifecycle state of a discovery task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// DiscoveryParams captures the per-run configuration surface.
type DiscoveryParams struct {
	Seed            string   `json:"seed" mapstructure:"seed"`
	MaxDepth        int      `json:"max_depth" mapstructure:"max_depth"`
	ExcludePatterns []string `json:"exclude_patterns" mapstructure:"exclude_patterns"`
	Mode            Mode     `json:"mode" mapstructure:"mode"`
}

// Progress is a point-in-time view of a running discovery.
type Progress struct {
	CurrentDepth int `json:"current_depth"`
	Discovered   int `json:"discovered"`
	Processed    int `json:"processed"`
	Pending      int `json:"pending"`
}

// Task is the metadata persisted for each submitted discovery request.
type Task struct {
	ID        string          `json:"id"`
	Status    TaskStatus      `json:"status"`
	Submitted time.Time       `json:"submitted_at"`
	Started   *time.Time      `json:"started_at,omitempty"`
	Finished  *time.Time      `json:"finished_at,omitempty"`
	ErrorText string          `json:"error_text,omitempty"`
	Params    DiscoveryParams `json:"params"`
	Progress  Progress        `json:"progress"`
	TotalURLs int             `json:"total_urls"`
	BlobURI   string          `json:"blob_uri,omitempty"`
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	TaskID    string
	Params    DiscoveryParams
	Attempt   int
	Submitted int64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}

// EdgeKind tags an edge by the relationship of its target to the seed host.
type EdgeKind string

// Edge kinds.
const (
	EdgeSameDomain EdgeKind = "same_domain"
	EdgeExternal   EdgeKind = "external"
)

// Node is a discovered URL and the BFS depth it was first seen at.
type Node struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// Edge is one observed link. Duplicate edges are kept.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// Graph is the traversal graph of a discovery run.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// RequestCounters counts fetch and parse outcomes.
type RequestCounters struct {
	Total            int `json:"total"`
	Timeouts         int `json:"timeouts"`
	Errors           int `json:"errors"`
	XMLErrors        int `json:"xml_errors"`
	ProcessingErrors int `json:"processing_errors"`
	ExtractionErrors int `json:"extraction_errors"`
}

// URLStats summarizes the frontier bookkeeping of a run.
type URLStats struct {
	TotalDiscovered    int            `json:"total_discovered"`
	TotalProcessed     int            `json:"total_processed"`
	Pending            int            `json:"pending"`
	DiscoveredByDomain map[string]int `json:"discovered_by_domain"`
	ProcessingTime     float64        `json:"processing_time"`
	URLsPerSecond      float64        `json:"urls_per_second"`
}

// DiscoveryStats aggregates request counters and stage timings (seconds).
type DiscoveryStats struct {
	Requests   RequestCounters      `json:"requests"`
	Timings    map[string][]float64 `json:"timings"`
	AvgFetchMs float64              `json:"avg_fetch_ms"`
	ElapsedMs  int64                `json:"elapsed_ms"`
	Failures   map[string]string    `json:"failures,omitempty"`
	URLs       URLStats             `json:"urls"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// DiscoveryResult is the immutable outcome of one discovery run.
type DiscoveryResult struct {
	Seed            string         `json:"seed"`
	Mode            Mode           `json:"mode"`
	URLs            []string       `json:"urls"`
	Graph           Graph          `json:"graph"`
	Total           int            `json:"total"`
	MaxDepthReached int            `json:"max_depth_reached"`
	Stats           DiscoveryStats `json:"stats"`
}

// RunRecord is the durable summary of a finished discovery task.
type RunRecord struct {
	ID              string
	Seed            string
	Mode            Mode
	MaxDepth        int
	Total           int
	MaxDepthReached int
	Stats           DiscoveryStats
	BlobURI         string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// CompletionEvent is published when a discovery task finishes successfully.
type CompletionEvent struct {
	TaskID          string    `json:"task_id"`
	Seed            string    `json:"seed"`
	Mode            Mode      `json:"mode"`
	Total           int       `json:"total"`
	MaxDepthReached int       `json:"max_depth_reached"`
	BlobURI         string    `json:"blob_uri,omitempty"`
	FinishedAt      time.Time `json:"finished_at"`
}
