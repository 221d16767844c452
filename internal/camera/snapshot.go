package camera

import (
	"errors"
	"fmt"
	"time"
)

// Capture reads one extra frame from the open device and encodes it as a VL
// envelope. The capture loop keeps running.
//
// Returns:
//   - *Snapshot: Envelope plus the raw JPEG bytes
//   - error: ErrNotOpen, ErrFrameRead or ErrEncode
func (s *Session) Capture() (*Snapshot, error) {
	frame, err := s.readFrame()
	if err != nil {
		return nil, s.snapshotFailed(err)
	}

	data, err := s.encoder.EncodeJPEG(frame)
	frame.Close() //nolint:errcheck // frame release failures are not actionable
	if err != nil {
		if !errors.Is(err, ErrEncode) {
			err = fmt.Errorf("%w: %w", ErrEncode, err)
		}
		return nil, s.snapshotFailed(err)
	}

	snap := &Snapshot{
		Envelope:   NewEnvelope(data),
		JPEG:       data,
		CapturedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.snapshots++
	s.mu.Unlock()

	e := s.newEvent(EventSnapshot)
	e.Detail = map[string]any{"bytes": len(data)}
	e.Snapshot = snap
	s.observers.notify(e, s.logger)

	return snap, nil
}

// CaptureSnapshot returns the envelope JSON for one fresh frame, or ("", false)
// when the device is not open or the frame could not be read or encoded.
// Failures are logged.
func (s *Session) CaptureSnapshot() (string, bool) {
	snap, err := s.Capture()
	if err != nil {
		return "", false
	}
	raw, err := snap.JSON()
	if err != nil {
		s.logger.Error("failed to marshal snapshot envelope", "error", err)
		return "", false
	}
	return string(raw), true
}

func (s *Session) snapshotFailed(err error) error {
	if errors.Is(err, ErrNotOpen) {
		s.logger.Warn("snapshot requested while camera is not open")
	} else {
		s.logger.Error("snapshot failed", "error", err)
	}
	e := s.newEvent(EventSnapshotFailed)
	e.Err = err.Error()
	s.observers.notify(e, s.logger)
	return err
}
