// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/workflow/start and /v1/workflow/stop to trigger and cancel runs.
//   - GET /v1/workflow/status for the current run record.
//   - DELETE /v1/artifacts/{id}?force=bool for two-phase artifact deletion.
package api
