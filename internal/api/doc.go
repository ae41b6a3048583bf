// Package api exposes the orchestrator over HTTP with gin.
//
//	POST /v1/runs                 submit a run
//	GET  /v1/runs                 list finished runs (?definition=<id>)
//	GET  /v1/runs/:id             current status
//	POST /v1/runs/:id/cancel      cancel
//	GET  /v1/runs/:id/record      persisted audit record
//	GET  /v1/definitions          submittable definitions
//	GET  /health                  liveness
//	GET  /metrics                 prometheus exposition
//
// Errors are JSON objects of the form {"error": "..."}. Unknown
// definitions and runs map to 404, graph and input validation errors to
// 422, malformed bodies to 400 and everything else to 500.
package api
