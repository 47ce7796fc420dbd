// Package api hosts the HTTP server, middleware, and REST handlers for the
// discovery service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discoveries to submit a discovery task, GET to list them.
//   - GET /v1/discoveries/{task_id}[/result|/stats] for status, the final
//     result and URL statistics.
//   - POST /v1/validate for a synchronous single-URL reachability check.
package api
