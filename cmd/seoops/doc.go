// Package main hosts the SEO operations service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and one POST route per pipeline entry point
//     (sync, crawl, daily alerts, deploy, URL submission). A scheduler or the content-editing surface calls them.
//   - Metrics sync: a short-lived service-account token is minted per call and Search Console rows are upserted
//     for every day and dimension in the requested window.
//   - Crawl: sitemap or priority URLs are fetched with the Colly fetcher by a small worker pool, inspected with
//     goquery, and appended as URL health records.
//   - Alerts: baselines are recomputed from stored rows, rules open and resolve tasks, and the daily briefing is
//     written to the store and to the configured blob store (memory/local/GCS).
//   - Deploy: a rebuild is requested via build hook and/or Pub/Sub, then changed content paths go to IndexNow.
//
// Operational notes:
//   - State lives in Postgres when db.dsn is set; otherwise an in-memory store is used (local development only).
//   - The HTTP server listens on the configured port (overridable via PORT) and drains on SIGINT/SIGTERM.
//   - Configure via a YAML file passed with -config or SEOOPS_* environment variables.
package main
