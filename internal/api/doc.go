// Package api hosts the HTTP server that exposes each pipeline entry point.
// Notable routes:
//   - GET /healthz and /readyz for Cloud Run probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sync, /v1/crawl, /v1/alerts/daily for scheduled runs.
//   - POST /v1/deploy and /v1/indexnow for the content-editing surface.
package api
