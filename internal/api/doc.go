// Package api hosts the HTTP server, middleware, and REST handlers for the
// results dashboard. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/athletes for the roster, filterable by sector.
//   - GET /v1/results and /v1/results/{fisCode} for the latest snapshot.
//   - GET /v1/results/{fisCode}/history for stored rows across runs.
//   - POST /v1/athletes/{fisCode}/scrape to refresh one athlete on demand.
//   - GET /v1/stats for orchestrator and cache counters.
package api
