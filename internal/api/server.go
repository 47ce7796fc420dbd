package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-frontier/internal/config"
	"github.com/JakeFAU/site-frontier/internal/crawler"
	"github.com/JakeFAU/site-frontier/internal/frontier"
	"github.com/JakeFAU/site-frontier/internal/metrics"
)

const (
	enqueueTimeout   = 5 * time.Second
	readinessTimeout = 2 * time.Second
	maxBodyBytes     = 1 << 20
)

// Enqueuer accepts tasks for background execution. *dispatcher.Dispatcher
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Discoverer runs a discovery synchronously. *frontier.Engine satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, req frontier.Request) (crawler.DiscoveryResult, error)
}

// Option configures a Server.
type Option func(*Server)

// WithReadinessCheck adds a named dependency check to /readyz.
func WithReadinessCheck(name string, check func(context.Context) error) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router    chi.Router
	tasks     crawler.TaskStore
	enqueuer  Enqueuer
	validator Discoverer
	idGen     crawler.IDGenerator
	clock     crawler.Clock
	cfg       config.Config
	logger    *zap.Logger
	checks    map[string]func(context.Context) error
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tasks crawler.TaskStore,
	enqueuer Enqueuer,
	validator Discoverer,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		tasks:     tasks,
		enqueuer:  enqueuer,
		validator: validator,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		checks:    make(map[string]func(context.Context) error),
	}
	for _, opt := range opts {
		opt(s)
	}

	requestTimeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/validate", s.validate)
		r.Route("/discoveries", func(r chi.Router) {
			r.Post("/", s.submitDiscovery)
			r.Get("/", s.listDiscoveries)
			r.Route("/{task_id}", func(r chi.Router) {
				r.Get("/", s.getDiscovery)
				r.Get("/result", s.getResult)
				r.Get("/stats", s.getStats)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	failing := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failing", failing))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type discoveryRequest struct {
	Seed            string   `json:"seed"`
	MaxDepth        *int     `json:"max_depth"`
	ExcludePatterns []string `json:"exclude_patterns"`
	Mode            string   `json:"mode"`
}

func (s *Server) submitDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toDiscoveryParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taskID, err := s.enqueueTask(r.Context(), params)
	if err != nil {
		s.logger.Error("enqueue discovery failed", zap.String("seed", params.Seed), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, crawler.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	w.Header().Set("Location", "/v1/discoveries/"+taskID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"status":  string(crawler.TaskStatusQueued),
	})
}

func (s *Server) toDiscoveryParams(req discoveryRequest) (crawler.DiscoveryParams, error) {
	seed := strings.TrimSpace(req.Seed)
	if seed == "" {
		return crawler.DiscoveryParams{}, errors.New("seed required")
	}
	u, ok := frontier.NormalizeString(seed)
	if !ok || u.Host() == "" {
		return crawler.DiscoveryParams{}, fmt.Errorf("invalid seed %q", seed)
	}
	rawMode := req.Mode
	if rawMode == "" {
		rawMode = s.cfg.Discovery.ModeDefault
	}
	mode, err := crawler.ParseMode(rawMode)
	if err != nil {
		return crawler.DiscoveryParams{}, err
	}
	maxDepth := s.cfg.Discovery.MaxDepthDefault
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}
	if maxDepth < 0 {
		return crawler.DiscoveryParams{}, errors.New("max_depth must be >= 0")
	}
	return crawler.DiscoveryParams{
		Seed:            seed,
		MaxDepth:        maxDepth,
		ExcludePatterns: cloneStringSlice(req.ExcludePatterns),
		Mode:            mode,
	}, nil
}

func (s *Server) enqueueTask(ctx context.Context, params crawler.DiscoveryParams) (string, error) {
	taskID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	now := s.clock.Now()
	task := crawler.Task{
		ID:        taskID,
		Status:    crawler.TaskStatusQueued,
		Submitted: now,
		Params:    params,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		TaskID:    taskID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		// Leave no task stuck in queued.
		if uerr := s.tasks.UpdateTaskStatus(context.WithoutCancel(ctx), taskID, crawler.TaskStatusFailed,
			"enqueue failed: "+err.Error()); uerr != nil {
			s.logger.Error("mark unqueued task failed", zap.String("task_id", taskID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return taskID, nil
}

func (s *Server) listDiscoveries(w http.ResponseWriter, r *http.Request) {
	var filter crawler.TaskStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		filter = crawler.TaskStatus(strings.ToLower(raw))
		switch filter {
		case crawler.TaskStatusQueued, crawler.TaskStatusRunning, crawler.TaskStatusSucceeded, crawler.TaskStatusFailed:
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
	}
	tasks, err := s.tasks.ListTasks(r.Context())
	if err != nil {
		s.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	out := make([]crawler.Task, 0, len(tasks))
	for _, t := range tasks {
		if filter == "" || t.Status == filter {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) getDiscovery(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	result, err := s.tasks.GetResult(r.Context(), task.ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, crawler.ErrResultPending):
		msg := "discovery not complete"
		if task.Status == crawler.TaskStatusFailed {
			msg = "discovery failed: " + task.ErrorText
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": msg, "status": string(task.Status)})
	default:
		s.logger.Error("get result failed", zap.String("task_id", task.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load result")
	}
}

type statsResponse struct {
	TaskID   string                   `json:"task_id"`
	Status   crawler.TaskStatus       `json:"status"`
	Progress crawler.Progress         `json:"progress"`
	URLs     *crawler.URLStats        `json:"urls,omitempty"`
	Requests *crawler.RequestCounters `json:"requests,omitempty"`
	Domains  []domainCount            `json:"top_domains,omitempty"`
}

type domainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// getStats reports live progress while a task runs and the final URL
// statistics once it has a result.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	resp := statsResponse{TaskID: task.ID, Status: task.Status, Progress: task.Progress}
	result, err := s.tasks.GetResult(r.Context(), task.ID)
	switch {
	case err == nil:
		urls := result.Stats.URLs
		reqs := result.Stats.Requests
		resp.URLs = &urls
		resp.Requests = &reqs
		resp.Domains = topDomains(urls.DiscoveredByDomain)
	case errors.Is(err, crawler.ErrResultPending):
	default:
		s.logger.Error("get stats failed", zap.String("task_id", task.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func topDomains(byDomain map[string]int) []domainCount {
	out := make([]domainCount, 0, len(byDomain))
	for d, n := range byDomain {
		out = append(out, domainCount{Domain: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Count > out[j].Count
	})
	return out
}

type validateRequest struct {
	Seed string `json:"seed"`
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Seed) == "" {
		writeError(w, http.StatusBadRequest, "seed required")
		return
	}
	if s.validator == nil {
		writeError(w, http.StatusServiceUnavailable, "validation unavailable")
		return
	}
	result, err := s.validator.Discover(r.Context(), frontier.Request{
		Seed: frontier.FromString(req.Seed),
		Mode: crawler.ModeSingle,
	})
	if err != nil {
		if errors.Is(err, frontier.ErrInvalidSeed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("validate seed failed", zap.String("seed", req.Seed), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"seed":      result.Seed,
		"reachable": result.Total == 1,
		"result":    result,
	})
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (crawler.Task, bool) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return crawler.Task{}, false
		}
		s.logger.Error("get task failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return crawler.Task{}, false
	}
	return task, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
