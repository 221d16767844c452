// Package api implements the HTTP REST API and WebSocket server for the
// camera service.
//
// This package provides:
//   - REST endpoints to start, stop and inspect the capture session
//   - On-demand snapshots as VL envelopes or raw JPEG
//   - Read/write access to the camera configuration document
//   - Paginated access to the persisted event log
//   - WebSocket hub broadcasting camera state, events and snapshots
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// The event log and Prometheus handler are optional. Without them the
// corresponding routes answer 503 or are not mounted; camera control keeps
// working.
package api
