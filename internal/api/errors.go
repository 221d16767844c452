package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/eventlog"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/logging"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeCaptureFailed  = "capture_failed"
	ErrCodeStopTimeout    = "stop_timeout"
	ErrCodeNotConfigured  = "not_configured"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// domainError maps a sentinel from the camera or event log packages to a
// response. An empty message means the error text is passed through.
type domainError struct {
	target  error
	status  int
	code    string
	message string
}

var domainErrors = []domainError{
	{camera.ErrAlreadyRunning, http.StatusConflict, ErrCodeConflict, "camera is already running"},
	{camera.ErrNotOpen, http.StatusConflict, ErrCodeConflict, "camera is not open"},
	{camera.ErrStopTimeout, http.StatusGatewayTimeout, ErrCodeStopTimeout, "capture loop did not stop in time"},
	{camera.ErrFrameRead, http.StatusBadGateway, ErrCodeCaptureFailed, ""},
	{camera.ErrEncode, http.StatusBadGateway, ErrCodeCaptureFailed, ""},
	{camera.ErrInvalidPath, http.StatusBadRequest, ErrCodeValidation, ""},
	{camera.ErrPathConflict, http.StatusBadRequest, ErrCodeValidation, ""},
	{camera.ErrUnencodable, http.StatusBadRequest, ErrCodeValidation, ""},
	{eventlog.ErrUnknownType, http.StatusBadRequest, ErrCodeBadRequest, ""},
}

// writeDomainError answers with the mapping for err, or logs it and
// answers 500 with fallback as the message.
func writeDomainError(w http.ResponseWriter, logger *logging.Logger, fallback string, err error) {
	for _, m := range domainErrors {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, m.status, m.code, msg)
		return
	}

	logger.Error(fallback, "error", err)
	writeInternalError(w, fallback)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
