// Package app builds the discovery service from configuration and owns the
// lifetime of its long-lived dependencies.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/JakeFAU/site-frontier/internal/api"
	"github.com/JakeFAU/site-frontier/internal/clock/system"
	"github.com/JakeFAU/site-frontier/internal/config"
	"github.com/JakeFAU/site-frontier/internal/crawler"
	"github.com/JakeFAU/site-frontier/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-frontier/internal/fetcher/colly"
	"github.com/JakeFAU/site-frontier/internal/frontier"
	"github.com/JakeFAU/site-frontier/internal/hash/sha256"
	"github.com/JakeFAU/site-frontier/internal/id/uuid"
	"github.com/JakeFAU/site-frontier/internal/metrics"
	"github.com/JakeFAU/site-frontier/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/site-frontier/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/site-frontier/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-frontier/internal/queue/memory"
	"github.com/JakeFAU/site-frontier/internal/storage/gcs"
	"github.com/JakeFAU/site-frontier/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-frontier/internal/storage/memory"
	"github.com/JakeFAU/site-frontier/internal/storage/postgres"
	"github.com/JakeFAU/site-frontier/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Option adjusts how App dials external services.
type Option func(*options)

type options struct {
	gcsOpts    []option.ClientOption
	pubsubOpts []option.ClientOption
}

// WithGCSClientOptions passes options to the Cloud Storage client.
func WithGCSClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcsOpts = append(o.gcsOpts, opts...) }
}

// WithPubSubClientOptions passes options to the Pub/Sub client.
func WithPubSubClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// App holds the wired service.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Engine     *frontier.Engine
	Tasks      *memoryStorage.TaskStore
	Blobs      crawler.BlobStore
	Runs       *postgres.RunStore
	Publisher  crawler.Publisher
	Queue      *queueMemory.Queue
	Dispatcher *dispatcher.Dispatcher
	Server     *api.Server

	closers []func() error
}

// NewFetcher builds the colly fetcher, wrapped in a per-host rate limiter
// when rate_limit.rps is positive.
func NewFetcher(cfg config.Config) crawler.Fetcher {
	var f crawler.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		MaxRetries:    cfg.HTTP.MaxRetries,
	})
	if cfg.RateLimit.RPS > 0 {
		f = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
		}).Wrap(f)
	}
	return f
}

// NewEngine builds a discovery engine from cfg.
func NewEngine(cfg config.Config, fetcher crawler.Fetcher, logger *zap.Logger) *frontier.Engine {
	return frontier.NewEngine(fetcher, frontier.Config{
		GlobalConcurrency:  cfg.Discovery.GlobalConcurrency,
		PerHostConcurrency: cfg.Discovery.PerHostConcurrency,
		DiscoveryTimeout:   cfg.DiscoveryTimeout(),
		ValidationTimeout:  cfg.ValidationTimeout(),
	},
		frontier.WithLogger(logger.Named("frontier")),
		frontier.WithObserver(metrics.NewDiscoveryObserver()),
	)
}

// New wires every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			if err := a.Close(); err != nil {
				logger.Warn("close after failed init", zap.Error(err))
			}
		}
	}()

	a.Engine = NewEngine(cfg, NewFetcher(cfg), logger)
	clock := system.New()
	a.Tasks = memoryStorage.NewTaskStore(clock)

	var serverOpts []api.Option
	blobs, err := a.openBlobStore(ctx, o.gcsOpts, &serverOpts)
	if err != nil {
		return nil, err
	}
	a.Blobs = blobs

	var runs crawler.RunRecorder
	if cfg.DB.DSN != "" {
		store, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("init run store: %w", err)
		}
		a.Runs = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure run schema: %w", err)
		}
		runs = store
		serverOpts = append(serverOpts, api.WithReadinessCheck("postgres", store.Ping))
		logger.Info("recording runs in postgres")
	}

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.NewForProject(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, o.pubsubOpts...)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
		logger.Info("publishing completions to pubsub",
			zap.String("project_id", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	} else {
		a.Publisher = memorypublisher.New()
	}

	a.Queue = queueMemory.NewQueue(cfg.Worker.QueueDepth)
	hasher := sha256.New()
	workerCfg := worker.Config{
		ContentType: cfg.Storage.ContentType,
		BlobPrefix:  cfg.Storage.Prefix,
		Topic:       cfg.PubSub.TopicName,
		RunTimeout:  cfg.RunTimeout(),
	}
	workers := make([]*worker.Worker, 0, cfg.Worker.Count)
	for i := range cfg.Worker.Count {
		workers = append(workers, worker.New(
			a.Queue,
			a.Tasks,
			a.Engine,
			a.Blobs,
			runs,
			a.Publisher,
			hasher,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.Dispatcher = dispatcher.New(a.Queue, workers)
	a.Server = api.NewServer(a.Tasks, a.Dispatcher, a.Engine, uuid.New(), clock, cfg, logger.Named("api"), serverOpts...)

	ok = true
	logger.Info("application wired",
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("workers", cfg.Worker.Count),
		zap.Float64("rate_limit_rps", cfg.RateLimit.RPS),
	)
	return a, nil
}

// openBlobStore opens the configured archive backend. Backends that can be
// probed add a readiness check to serverOpts.
func (a *App) openBlobStore(ctx context.Context, gcsOpts []option.ClientOption, serverOpts *[]api.Option) (crawler.BlobStore, error) {
	switch a.Config.Storage.Backend {
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: a.Config.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case config.StorageGCS:
		client, err := storage.NewClient(ctx, gcsOpts...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.Config.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		*serverOpts = append(*serverOpts, api.WithReadinessCheck("gcs", store.Ping))
		return store, nil
	default:
		return memoryStorage.NewBlobStore(), nil
	}
}

// Run serves the API and runs the worker pool until ctx ends or the server
// fails, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("dispatcher started", zap.Int("workers", a.Dispatcher.Workers()))
		if abandoned := a.Dispatcher.Run(gctx); abandoned > 0 {
			a.Logger.Warn("queued tasks abandoned at shutdown", zap.Int("count", abandoned))
		}
		return nil
	})
	g.Go(func() error {
		a.Logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run service: %w", err)
	}
	a.Logger.Info("shutdown complete")
	return nil
}

// Close releases external clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
