package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// JSON bodies for unmatched routes, like every other error.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, r.Method+" not allowed on "+r.URL.Path)
	})

	if s.metricsCfg.Enabled && s.metricsHandler != nil {
		r.Method(http.MethodGet, s.metricsPath(), s.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/camera", func(r chi.Router) {
			r.Get("/", s.handleCameraStats)
			r.Post("/start", s.handleCameraStart)
			r.Post("/stop", s.handleCameraStop)
			r.Post("/snapshot", s.handleSnapshot)
			r.Get("/snapshot.jpg", s.handleSnapshotJPEG)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Get("/{path}", s.handleGetConfigValue)
			r.Put("/{path}", s.handleSetConfigValue)
		})

		r.Get("/events", s.handleListEvents)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath is relative to /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

func (s *Server) metricsPath() string {
	if s.metricsCfg.Path == "" {
		return "/metrics"
	}
	return s.metricsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"camera":         s.camera.State(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	}
	hub := s.hub.Stats()
	resp["ws_clients"] = hub.Clients
	resp["ws_dropped"] = hub.Dropped
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	if s.uplink != nil {
		resp["uplink_connected"] = s.uplink.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
