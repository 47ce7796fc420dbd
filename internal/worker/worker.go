// Package worker implements the discovery task execution loop.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-frontier/internal/crawler"
	"github.com/JakeFAU/site-frontier/internal/frontier"
	"github.com/JakeFAU/site-frontier/internal/metrics"
)

// Discoverer runs one discovery. *frontier.Engine satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, req frontier.Request) (crawler.DiscoveryResult, error)
}

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
	// RunTimeout bounds a whole discovery; zero means unbounded. A run that
	// hits it still succeeds with what it found.
	RunTimeout time.Duration
}

// Worker consumes queued tasks and executes the discovery pipeline.
type Worker struct {
	queue      crawler.Queue
	tasks      crawler.TaskStore
	discoverer Discoverer
	blobStore  crawler.BlobStore
	runs       crawler.RunRecorder
	publisher  crawler.Publisher
	hasher     crawler.Hasher
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. blobStore, runs and publisher are optional.
func New(
	queue crawler.Queue,
	tasks crawler.TaskStore,
	discoverer Discoverer,
	blobStore crawler.BlobStore,
	runs crawler.RunRecorder,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	metrics.Init()
	return &Worker{
		queue:      queue,
		tasks:      tasks,
		discoverer: discoverer,
		blobStore:  blobStore,
		runs:       runs,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID))
		w.processTask(ctx, item)
	}
}

func (w *Worker) processTask(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("task_id", item.TaskID), zap.String("seed", item.Params.Seed))
	// Bookkeeping must land even when shutdown cancels the run.
	storeCtx := context.WithoutCancel(ctx)

	if w.discoverer == nil {
		w.fail(storeCtx, logger, item.TaskID, "no discovery engine configured")
		return
	}
	if err := w.tasks.UpdateTaskStatus(storeCtx, item.TaskID, crawler.TaskStatusRunning, ""); err != nil {
		logger.Error("update task status failed", zap.Error(err))
		return
	}

	runCtx, cancel := w.runContext(ctx)
	defer cancel()

	result, err := w.discoverer.Discover(runCtx, frontier.Request{
		Seed:            frontier.FromString(item.Params.Seed),
		MaxDepth:        item.Params.MaxDepth,
		ExcludePatterns: item.Params.ExcludePatterns,
		Mode:            item.Params.Mode,
		OnProgress: func(p crawler.Progress) {
			if perr := w.tasks.UpdateProgress(storeCtx, item.TaskID, p); perr != nil {
				logger.Warn("update progress failed", zap.Error(perr))
			}
		},
	})
	if err != nil {
		w.fail(storeCtx, logger, item.TaskID, err.Error())
		return
	}
	if ctx.Err() != nil {
		w.fail(storeCtx, logger, item.TaskID, fmt.Sprintf("canceled: %v", ctx.Err()))
		return
	}
	if runCtx.Err() != nil {
		logger.Warn("run timeout reached, keeping partial result",
			zap.Duration("run_timeout", w.cfg.RunTimeout),
			zap.Int("total", result.Total),
		)
	}

	uri, err := w.archive(storeCtx, item.TaskID, result)
	if err != nil {
		w.fail(storeCtx, logger, item.TaskID, err.Error())
		return
	}
	if err := w.tasks.SaveResult(storeCtx, item.TaskID, result, uri); err != nil {
		w.fail(storeCtx, logger, item.TaskID, fmt.Sprintf("save result: %v", err))
		return
	}
	if err := w.tasks.UpdateTaskStatus(storeCtx, item.TaskID, crawler.TaskStatusSucceeded, ""); err != nil {
		logger.Error("final task status update failed", zap.Error(err))
		return
	}
	metrics.ObserveTask(string(crawler.TaskStatusSucceeded))
	logger.Info("discovery task succeeded",
		zap.Int("total", result.Total),
		zap.Int("max_depth_reached", result.MaxDepthReached),
		zap.String("blob_uri", uri),
	)

	// The result is durable at this point; the run row and the event are
	// best effort.
	w.recordRun(storeCtx, logger, item, result, uri)
	w.publishCompletion(storeCtx, logger, item, result, uri)
}

func (w *Worker) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.RunTimeout > 0 {
		return context.WithTimeout(ctx, w.cfg.RunTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) fail(ctx context.Context, logger *zap.Logger, taskID, errText string) {
	logger.Error("discovery task failed", zap.String("error", errText))
	metrics.ObserveTask(string(crawler.TaskStatusFailed))
	if err := w.tasks.UpdateTaskStatus(ctx, taskID, crawler.TaskStatusFailed, errText); err != nil {
		logger.Error("fail task status update", zap.Error(err))
	}
}

func (w *Worker) buildBlobPath(taskID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", taskID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, taskID, hash)
}

// archive writes the result JSON under a content-addressed name. It returns
// an empty URI when no blob store is configured.
func (w *Worker) archive(ctx context.Context, taskID string, result crawler.DiscoveryResult) (string, error) {
	if w.blobStore == nil {
		return "", nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	hash, err := w.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash result: %w", err)
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(taskID, hash), w.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (w *Worker) recordRun(
	ctx context.Context,
	logger *zap.Logger,
	item crawler.QueueItem,
	result crawler.DiscoveryResult,
	uri string,
) {
	if w.runs == nil {
		return
	}
	record := crawler.RunRecord{
		ID:              item.TaskID,
		Seed:            result.Seed,
		Mode:            result.Mode,
		MaxDepth:        item.Params.MaxDepth,
		Total:           result.Total,
		MaxDepthReached: result.MaxDepthReached,
		Stats:           result.Stats,
		BlobURI:         uri,
		StartedAt:       result.Stats.StartedAt,
		FinishedAt:      result.Stats.FinishedAt,
	}
	if err := w.runs.RecordRun(ctx, record); err != nil {
		logger.Error("record run failed", zap.Error(err))
	}
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	logger *zap.Logger,
	item crawler.QueueItem,
	result crawler.DiscoveryResult,
	uri string,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := crawler.CompletionEvent{
		TaskID:          item.TaskID,
		Seed:            result.Seed,
		Mode:            result.Mode,
		Total:           result.Total,
		MaxDepthReached: result.MaxDepthReached,
		BlobURI:         uri,
		FinishedAt:      w.clock.Now(),
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Error("publish completion failed", zap.Error(err))
		return
	}
	logger.Info("completion published", zap.String("message_id", msgID), zap.String("topic", w.cfg.Topic))
}
