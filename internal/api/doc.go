// Package api hosts the HTTP server that exposes poll results. Notable routes:
//   - GET /status.json for the latest report, never cached but revalidated by ETag.
//   - GET /api/sources and /api/sources/{name} for per-source summaries.
//   - POST /api/poll to request an immediate cycle, throttled per client.
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - Everything else is served from the configured frontend directory.
package api
