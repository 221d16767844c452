package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-camera/internal/eventlog"
)

// handleListEvents returns paginated camera events, newest first.
//
// Query parameters:
//   - type: filter by event type (started, stopped, snapshot, ...)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "event log not configured")
		return
	}

	q := r.URL.Query()
	filter := eventlog.Filter{Type: q.Get("type")}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, s.logger, "failed to list events", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
