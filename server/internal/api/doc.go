// Package api implements the HTTP REST API for the microclimate server.
//
// New(deps, opts) returns an http.Handler that serves:
//
//	GET /api/v1/sources         source registry as currently on disk
//	GET /api/v1/analysis        latest result and hints for every source
//	GET /api/v1/analysis/{id}   latest result; {"sourceID": id, "score": null} if none
//	GET /api/v1/status          scheduler state, store mode, subscriber count
//	GET /api/v1/alerts          firing and recently resolved score alerts
//
// /api/webcams and /api/analysis/{id} are kept as aliases for older clients.
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Never surface store errors; a failed read is reported as a null score
//
// CORS wraps any handler with the configured origin allow list. No external
// HTTP framework is used.
package api
