package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

// configValueRequest is the body of PUT /config/{path}.
type configValueRequest struct {
	Value json.RawMessage `json:"value"`
}

// handleGetConfig returns the whole camera configuration document.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.camera.Config().Document())
}

// handleGetConfigValue returns the value at a dot-separated path.
func (s *Server) handleGetConfigValue(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	value, ok := s.camera.Config().Lookup(path)
	if !ok {
		writeNotFound(w, "config path not found: "+path)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":  path,
		"value": value,
	})
}

// handleSetConfigValue stores a value at a dot-separated path.
// Capture settings take effect on the next start.
func (s *Server) handleSetConfigValue(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	var body configValueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body.Value) == 0 {
		writeBadRequest(w, "value is required")
		return
	}

	value, err := camera.DecodeValue(body.Value)
	if err != nil {
		writeBadRequest(w, "invalid value")
		return
	}

	if err := s.camera.UpdateConfig(path, value); err != nil {
		writeDomainError(w, s.logger, "failed to save config", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":  path,
		"value": value,
	})
}
