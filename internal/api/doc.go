// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/queues and /v1/queues/{name} for the latest queue snapshots.
//   - GET /v1/schedule for upcoming scheduled crawls.
package api
