package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store sentinels.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrResultPending is returned by GetResult before a task succeeds.
	ErrResultPending = errors.New("result not ready")
	// ErrQueueClosed is returned by a Queue after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// TaskStore persists discovery tasks, their progress and results.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, errText string) error
	UpdateProgress(ctx context.Context, taskID string, progress Progress) error
	SaveResult(ctx context.Context, taskID string, result DiscoveryResult, blobURI string) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	GetResult(ctx context.Context, taskID string) (DiscoveryResult, error)
	ListTasks(ctx context.Context) ([]Task, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RunRecorder stores a durable summary row per finished discovery.
type RunRecorder interface {
	RecordRun(ctx context.Context, record RunRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
// Implementations must be safe for concurrent use and treat non-2xx
// responses as errors.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, request FetchRequest) (FetchResponse, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	return f(ctx, request)
}

// Queue provides enqueue/dequeue semantics for discovery tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
