// Package main hosts the discovery service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts discovery submissions, validates the seed, persists a queued task and
//     hands it to the dispatcher. Task status, results, stats and a synchronous URL validator are served under /v1.
//   - Dispatcher & queue: tasks flow through a bounded in-memory queue sized by worker.queue_depth and are fanned
//     out to worker.count workers. Context cancellation stops workers on shutdown.
//   - Discovery engine: each worker runs internal/frontier.Engine, which resolves sitemaps and crawls the seed's
//     site breadth-first through the Colly fetcher under a global and per-host concurrency limit, with optional
//     per-host rate limiting.
//   - Persistence & fanout: results are archived as JSON to the configured BlobStore (memory/local/GCS), run
//     summaries are optionally written to Postgres, and a completion event is published to Pub/Sub when a project
//     is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and the /metrics handler.
//
// Quick checklist:
//   - Configure env vars: FRONTIER_SERVER_PORT or PORT, FRONTIER_WORKER_COUNT, FRONTIER_DISCOVERY_MAX_DEPTH_DEFAULT,
//     storage (FRONTIER_STORAGE_*), pubsub and the database DSN when persistence beyond memory is required.
//   - Run locally: go run ./cmd/frontierd -config config.yaml (or rely solely on env overrides).
package main
