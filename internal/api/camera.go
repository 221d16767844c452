package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

// snapshotKey is the singleflight key shared by all snapshot requests.
const snapshotKey = "snapshot"

// handleCameraStats returns the session statistics.
func (s *Server) handleCameraStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.camera.Stats())
}

// handleCameraStart launches the capture loop. The device is opened in the
// background, so success means the session is Opening.
func (s *Server) handleCameraStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.camera.Start(s.runCtx); err != nil {
		writeDomainError(w, s.logger, "failed to start camera", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"state": s.camera.State(),
	})
}

// handleCameraStop stops the capture loop and waits for it to exit.
func (s *Server) handleCameraStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.camera.Stop(); err != nil {
		writeDomainError(w, s.logger, "failed to stop camera", err)
		return
	}

	writeJSON(w, http.StatusOK, s.camera.Stats())
}

// handleSnapshot returns a VL envelope for one fresh frame.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.capture(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Envelope)
}

// handleSnapshotJPEG returns one fresh frame as a JPEG image.
func (s *Server) handleSnapshotJPEG(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.capture(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.JPEG)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(snap.JPEG)
}

// capture takes a snapshot, sharing the result between concurrent callers.
// On failure it writes the error response and returns false.
func (s *Server) capture(w http.ResponseWriter) (*camera.Snapshot, bool) {
	snap, err := s.sharedCapture()
	if err != nil {
		writeDomainError(w, s.logger, "snapshot failed", err)
		return nil, false
	}
	return snap, true
}
