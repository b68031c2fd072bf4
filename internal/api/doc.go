// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/loads to queue a load for the background workers (503 when full).
//   - GET /v1/loads and /v1/loads/{load_id} for load run progress.
package api
