package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

// TaskStore provides an in-memory TaskStore for development and tests.
type TaskStore struct {
	mu      sync.RWMutex
	clock   crawler.Clock
	tasks   map[string]crawler.Task
	results map[string]crawler.DiscoveryResult
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewTaskStore constructs a TaskStore. A nil clock uses wall time.
func NewTaskStore(clock crawler.Clock) *TaskStore {
	if clock == nil {
		clock = utcClock{}
	}
	return &TaskStore{
		clock:   clock,
		tasks:   make(map[string]crawler.Task),
		results: make(map[string]crawler.DiscoveryResult),
	}
}

// CreateTask stores a new task.
func (s *TaskStore) CreateTask(_ context.Context, task crawler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s: %w", task.ID, crawler.ErrAlreadyExists)
	}
	s.tasks[task.ID] = task
	return nil
}

// UpdateTaskStatus moves a task to status, stamping start and finish times.
func (s *TaskStore) UpdateTaskStatus(_ context.Context, taskID string, status crawler.TaskStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	task.Status = status
	task.ErrorText = errText
	now := s.clock.Now()
	if status == crawler.TaskStatusRunning && task.Started == nil {
		task.Started = pointerTime(now)
	}
	if status.Terminal() {
		task.Finished = pointerTime(now)
	}
	s.tasks[taskID] = task
	return nil
}

// UpdateProgress replaces the progress snapshot of a task.
func (s *TaskStore) UpdateProgress(_ context.Context, taskID string, progress crawler.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	task.Progress = progress
	s.tasks[taskID] = task
	return nil
}

// SaveResult attaches the discovery result and its archive URI to a task.
func (s *TaskStore) SaveResult(_ context.Context, taskID string, result crawler.DiscoveryResult, blobURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	task.TotalURLs = result.Total
	task.BlobURI = blobURI
	s.tasks[taskID] = task
	s.results[taskID] = result
	return nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.Task{}, fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	return task, nil
}

// GetResult returns the stored result, or ErrResultPending when the task
// exists but has not produced one.
func (s *TaskStore) GetResult(_ context.Context, taskID string) (crawler.DiscoveryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tasks[taskID]; !ok {
		return crawler.DiscoveryResult{}, fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	result, ok := s.results[taskID]
	if !ok {
		return crawler.DiscoveryResult{}, fmt.Errorf("task %s: %w", taskID, crawler.ErrResultPending)
	}
	return result, nil
}

// ListTasks returns all tasks, oldest submission first.
func (s *TaskStore) ListTasks(_ context.Context) ([]crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID < out[j].ID
		}
		return out[i].Submitted.Before(out[j].Submitted)
	})
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
