// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /jobs and GET /jobs/{jobId} for callers creating and polling jobs.
//   - POST /internal/tick for scheduler or Pub/Sub push triggers.
//   - POST /owners/reconcile once a caller's permanent owner ID exists.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus scraping.
package api
