package eventlog

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

// recordTimeout bounds a single insert made from the capture goroutine.
const recordTimeout = 2 * time.Second

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder is a camera.Observer that stores every event it sees.
// Insert failures are logged and otherwise ignored.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder writing to repo. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// OnEvent implements camera.Observer.
func (r *Recorder) OnEvent(e camera.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, FromEvent(e)); err != nil {
		r.logger.Warn("failed to record camera event",
			"event_id", e.ID,
			"type", string(e.Type),
			"error", err,
		)
	}
}
