package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

// Command names accepted on graylogic/camera/{device_id}/command.
const (
	CommandStart    = "start"
	CommandStop     = "stop"
	CommandSnapshot = "snapshot"
	CommandStatus   = "status"
)

// CommandMessage is sent by a controller to drive the camera.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	// Command is one of start, stop, snapshot, status.
	Command string `json:"command"`

	// Source indicates where the command originated (api, automation, voice).
	Source string `json:"source,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was carried out.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be carried out.
	AckFailed AckStatus = "failed"
)

// AckMessage answers a CommandMessage on the ack topic.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeAlreadyRunning = "ALREADY_RUNNING"
	ErrCodeNotOpen        = "NOT_OPEN"
	ErrCodeStopTimeout    = "STOP_TIMEOUT"
	ErrCodeCaptureFailed  = "CAPTURE_FAILED"
	ErrCodeCameraError    = "CAMERA_ERROR"
)

// StatusMessage is published retained on the status topic.
type StatusMessage struct {
	DeviceID  string       `json:"device_id"`
	Status    camera.Stats `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// ParseCommand decodes and validates a command payload.
func ParseCommand(payload []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("parsing command: %w", err)
	}
	switch cmd.Command {
	case CommandStart, CommandStop, CommandSnapshot, CommandStatus:
		return cmd, nil
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

// errorCode maps a session error onto an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, camera.ErrAlreadyRunning):
		return ErrCodeAlreadyRunning
	case errors.Is(err, camera.ErrNotOpen):
		return ErrCodeNotOpen
	case errors.Is(err, camera.ErrStopTimeout):
		return ErrCodeStopTimeout
	case errors.Is(err, camera.ErrFrameRead), errors.Is(err, camera.ErrEncode):
		return ErrCodeCaptureFailed
	default:
		return ErrCodeCameraError
	}
}
