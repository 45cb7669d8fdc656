// Package api hosts the HTTP server, middleware, and JSON handlers for the
// archiver. Notable routes:
//   - GET / for a service summary.
//   - GET /api/check-new-pdfs for a read-only novelty check, or a page
//     inspection when ?url= is given.
//   - GET /api/cron/hourly-check to run one detection pass.
//   - POST /api/download-pdf to download a single document.
//   - GET /api/records for the tracked documents.
//   - GET /healthz / readyz for probes and /metrics for Prometheus scraping.
//
// Every response is a JSON object carrying "success" and "timestamp"; failures
// add "error".
package api
