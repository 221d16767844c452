package camera

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// State is the run state of the capture session.
type State string

const (
	StateIdle     State = "idle"
	StateOpening  State = "opening"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// DefaultStopTimeout bounds how long Stop waits for the capture loop.
const DefaultStopTimeout = 5 * time.Second

// quitKey ends the loop when pressed in the preview window.
const quitKey = 'q'

// waitPollInterval is how often WaitActive re-checks the state.
const waitPollInterval = 20 * time.Millisecond

// Logger defines the logging interface for the camera package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Session.
type Options struct {
	// Store supplies the camera index and capture parameters. Required.
	Store *ConfigStore

	// Opener opens the capture device. Required.
	Opener Opener

	// Encoder turns frames into JPEG bytes for snapshots. Required.
	Encoder Encoder

	// Display is an optional preview window. When set, every frame is shown
	// and pressing 'q' ends the loop.
	Display Display

	// StopTimeout bounds Stop. Zero means DefaultStopTimeout.
	StopTimeout time.Duration

	// Logger is optional; nil disables logging.
	Logger Logger
}

// Session owns the single capture device handle and the background loop that
// reads from it.
//
// State transitions: Idle → Opening → Active → Stopping → Idle. A failed
// open goes straight from Opening back to Idle.
//
// Thread Safety:
//   - Start and Stop serialise on a lifecycle lock and may be called from
//     any goroutine.
//   - Every read on the handle, from the loop or from Capture, holds the
//     handle lock, so reads never overlap.
type Session struct {
	store       *ConfigStore
	opener      Opener
	encoder     Encoder
	display     Display
	stopTimeout time.Duration
	logger      Logger
	observers   observers

	lifecycleMu sync.Mutex

	mu           sync.RWMutex
	state        State
	cameraIndex  int
	startedAt    time.Time
	framesRead   uint64
	totalFrames  uint64
	readFailures uint64
	snapshots    uint64
	lastError    error
	stop         chan struct{}
	done         chan struct{}

	handleMu sync.Mutex
	device   Device
}

// NewSession creates an idle session.
//
// Returns:
//   - *Session: Session in StateIdle
//   - error: ErrMissingDependency if a required option is nil
func NewSession(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: config store", ErrMissingDependency)
	}
	if opts.Opener == nil {
		return nil, fmt.Errorf("%w: device opener", ErrMissingDependency)
	}
	if opts.Encoder == nil {
		return nil, fmt.Errorf("%w: frame encoder", ErrMissingDependency)
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Session{
		store:       opts.Store,
		opener:      opts.Opener,
		encoder:     opts.Encoder,
		display:     opts.Display,
		stopTimeout: opts.StopTimeout,
		logger:      opts.Logger,
		state:       StateIdle,
		cameraIndex: opts.Store.Settings().CameraIndex,
	}, nil
}

// AddObserver registers an observer for session events.
func (s *Session) AddObserver(o Observer) {
	s.observers.add(o)
}

// Config returns the configuration store the session reads from.
func (s *Session) Config() *ConfigStore {
	return s.store
}

// Start spawns the capture loop.
//
// The loop opens the device asynchronously; Start returns as soon as the
// session is Opening. ctx bounds the lifetime of the loop, so callers should
// pass a long-lived context rather than a request context.
//
// Returns:
//   - error: ErrAlreadyRunning if a previous loop has not exited yet
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.loopAliveLocked() {
		s.mu.Unlock()
		s.logger.Warn("camera capture loop already running")
		return ErrAlreadyRunning
	}

	settings := s.store.Settings()
	stop := make(chan struct{})
	done := make(chan struct{})
	s.state = StateOpening
	s.cameraIndex = settings.CameraIndex
	s.startedAt = time.Time{}
	s.framesRead = 0
	s.lastError = nil
	s.stop = stop
	s.done = done
	s.mu.Unlock()

	s.logger.Info("starting camera capture loop",
		"camera_index", settings.CameraIndex,
		"width", settings.FrameWidth,
		"height", settings.FrameHeight,
		"fps", settings.FPS,
	)

	go s.run(ctx, settings, stop, done)
	return nil
}

// Stop signals the capture loop to exit and waits for it, bounded by the
// stop timeout. It is a no-op when no loop is running.
//
// Returns:
//   - error: ErrStopTimeout if the loop did not exit in time; a later Stop
//     waits again
func (s *Session) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-done:
		s.done = nil
		s.stop = nil
		s.mu.Unlock()
		return nil
	default:
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if s.state == StateActive || s.state == StateOpening {
		s.state = StateStopping
	}
	s.mu.Unlock()

	s.logger.Info("stopping camera capture loop")

	select {
	case <-done:
		s.mu.Lock()
		if s.done == done {
			s.done = nil
		}
		s.mu.Unlock()
		return nil
	case <-time.After(s.stopTimeout):
		s.logger.Warn("camera capture loop did not stop in time", "timeout", s.stopTimeout)
		e := s.newEvent(EventStopTimeout)
		e.Err = ErrStopTimeout.Error()
		e.Detail = map[string]any{"timeout": s.stopTimeout.String()}
		s.observers.notify(e, s.logger)
		return ErrStopTimeout
	}
}

// loopAliveLocked reports whether a loop goroutine has not exited yet.
// Caller must hold s.mu.
func (s *Session) loopAliveLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// run is the capture goroutine.
func (s *Session) run(ctx context.Context, settings Settings, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if s.display != nil {
		// GUI calls must stay on one OS thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	dev, err := s.opener.Open(settings.CameraIndex)
	if err != nil {
		if !errors.Is(err, ErrOpenFailed) {
			err = fmt.Errorf("%w: index %d: %w", ErrOpenFailed, settings.CameraIndex, err)
		}
		s.logger.Error("failed to open camera", "camera_index", settings.CameraIndex, "error", err)
		s.setIdle(err)
		e := s.newEvent(EventOpenFailed)
		e.Err = err.Error()
		s.observers.notify(e, s.logger)
		return
	}

	if err := dev.Configure(settings.Params()); err != nil {
		s.logger.Warn("failed to apply capture parameters", "camera_index", settings.CameraIndex, "error", err)
	}

	s.handleMu.Lock()
	s.device = dev
	s.handleMu.Unlock()

	s.mu.Lock()
	if s.state == StateOpening {
		s.state = StateActive
	}
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("camera capture loop active", "camera_index", settings.CameraIndex)
	started := s.newEvent(EventStarted)
	started.Detail = map[string]any{
		"frame_width":  settings.FrameWidth,
		"frame_height": settings.FrameHeight,
		"fps":          settings.FPS,
	}
	s.observers.notify(started, s.logger)

	reason, loopErr := s.loop(ctx, stop)

	s.mu.Lock()
	s.state = StateStopping
	s.mu.Unlock()

	if s.display != nil {
		if err := s.display.Close(); err != nil {
			s.logger.Warn("failed to close preview window", "error", err)
		}
	}

	switch reason {
	case EventReadFailed:
		e := s.newEvent(EventReadFailed)
		e.Err = loopErr.Error()
		s.observers.notify(e, s.logger)
	case EventQuitKey:
		s.observers.notify(s.newEvent(EventQuitKey), s.logger)
	}

	s.handleMu.Lock()
	s.device = nil
	closeErr := dev.Close()
	s.handleMu.Unlock()
	if closeErr != nil {
		s.logger.Warn("failed to release camera", "error", closeErr)
	}

	s.mu.RLock()
	frames := s.framesRead
	uptime := time.Since(s.startedAt)
	s.mu.RUnlock()

	s.setIdle(loopErr)
	s.logger.Info("camera capture loop stopped", "reason", string(reason), "frames_read", frames)
	stopped := s.newEvent(EventStopped)
	stopped.Detail = map[string]any{
		"reason":      string(reason),
		"frames_read": frames,
		"uptime":      uptime.String(),
	}
	s.observers.notify(stopped, s.logger)
}

// loop reads frames until told to stop. It returns why it ended.
func (s *Session) loop(ctx context.Context, stop <-chan struct{}) (EventType, error) {
	for {
		select {
		case <-stop:
			return EventStopped, nil
		case <-ctx.Done():
			return EventStopped, nil
		default:
		}

		frame, err := s.readFrame()
		if err != nil {
			s.logger.Error("failed to read camera frame", "error", err)
			return EventReadFailed, err
		}

		s.mu.Lock()
		s.framesRead++
		s.totalFrames++
		s.mu.Unlock()

		if s.display == nil {
			frame.Close() //nolint:errcheck // frame release failures are not actionable
			continue
		}

		s.display.Show(frame)
		frame.Close() //nolint:errcheck // frame release failures are not actionable
		if s.display.PollKey() == quitKey {
			s.logger.Info("quit key pressed in preview window")
			return EventQuitKey, nil
		}
	}
}

// readFrame performs one read on the handle under the handle lock.
func (s *Session) readFrame() (Frame, error) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	if s.device == nil {
		return nil, ErrNotOpen
	}
	frame, err := s.device.Read()
	if err != nil {
		s.mu.Lock()
		s.readFailures++
		s.mu.Unlock()
		if errors.Is(err, ErrFrameRead) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFrameRead, err)
	}
	return frame, nil
}

func (s *Session) setIdle(err error) {
	s.mu.Lock()
	s.state = StateIdle
	if err != nil {
		s.lastError = err
	}
	s.mu.Unlock()
}

func (s *Session) newEvent(typ EventType) Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newEvent(typ, s.cameraIndex, s.state)
}

// UpdateConfig writes a configuration value through the store and announces
// the change. Settings take effect on the next Start.
func (s *Session) UpdateConfig(path string, value any) error {
	stored, err := s.store.put(path, value)
	if err != nil {
		return err
	}
	e := s.newEvent(EventConfigUpdated)
	e.Detail = map[string]any{"path": path, "value": cloneValue(stored)}
	s.observers.notify(e, s.logger)
	return nil
}

// WaitActive blocks until the session is Active.
//
// Returns:
//   - error: the open failure when the loop ended first, ErrNotOpen if no
//     loop was started, or ctx.Err()
func (s *Session) WaitActive(ctx context.Context) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		s.mu.RLock()
		state := s.state
		alive := s.loopAliveLocked()
		lastErr := s.lastError
		s.mu.RUnlock()

		switch {
		case state == StateActive:
			return nil
		case state == StateIdle && !alive:
			if lastErr != nil {
				return lastErr
			}
			return ErrNotOpen
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// State returns the current run state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsOpen reports whether a device handle is currently held.
func (s *Session) IsOpen() bool {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	return s.device != nil
}

// LastError returns the error that ended the most recent loop, if any.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Stats returns a point-in-time view of the session.
func (s *Session) Stats() Stats {
	settings := s.store.Settings()

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		State:        s.state,
		CameraIndex:  s.cameraIndex,
		Settings:     settings,
		FramesRead:   s.framesRead,
		TotalFrames:  s.totalFrames,
		ReadFailures: s.readFailures,
		Snapshots:    s.snapshots,
	}
	if s.state == StateActive && !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt)
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}

// Stats returns statistics about the capture session.
type Stats struct {
	State        State         `json:"state"`
	CameraIndex  int           `json:"camera_index"`
	Settings     Settings      `json:"settings"`
	Uptime       time.Duration `json:"uptime,omitempty"`

	// FramesRead counts the current or last run; TotalFrames never resets.
	FramesRead   uint64 `json:"frames_read"`
	TotalFrames  uint64 `json:"total_frames_read"`
	ReadFailures uint64 `json:"read_failures"`
	Snapshots    uint64 `json:"snapshots"`
	LastError    string `json:"last_error,omitempty"`
}
