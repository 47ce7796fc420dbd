// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-frontier/internal/crawler"
	"github.com/JakeFAU/site-frontier/internal/worker"
)

// Dispatcher fans out queued discovery tasks to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// closer is implemented by queues that can refuse further work.
type closer interface {
	Close()
}

// lener is implemented by queues that can report their backlog.
type lener interface {
	Len() int
}

// Run starts all workers and blocks until the context finishes. It then
// closes the queue so late enqueues fail with crawler.ErrQueueClosed, waits
// for every worker to return, and reports how many queued tasks were left
// undelivered.
func (d *Dispatcher) Run(ctx context.Context) int {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	<-ctx.Done()
	if c, ok := d.queue.(closer); ok {
		c.Close()
	}
	wg.Wait()
	if l, ok := d.queue.(lener); ok {
		return l.Len()
	}
	return 0
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}
