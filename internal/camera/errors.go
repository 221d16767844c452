package camera

import "errors"

// Domain errors for the camera package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, camera.ErrNotOpen) {
//	    // device is idle, nothing to capture
//	}
var (
	// ErrOpenFailed is returned when the capture device cannot be opened.
	ErrOpenFailed = errors.New("camera: device open failed")

	// ErrNotOpen is returned when a snapshot is requested while no handle is open.
	ErrNotOpen = errors.New("camera: device not open")

	// ErrFrameRead is returned when the device fails to deliver a frame.
	ErrFrameRead = errors.New("camera: frame read failed")

	// ErrEncode is returned when a frame cannot be encoded as JPEG.
	ErrEncode = errors.New("camera: frame encode failed")

	// ErrAlreadyRunning is returned by Start when a capture loop is still alive.
	ErrAlreadyRunning = errors.New("camera: capture loop already running")

	// ErrStopTimeout is returned by Stop when the capture loop does not exit
	// within the configured stop timeout.
	ErrStopTimeout = errors.New("camera: capture loop did not stop in time")

	// ErrInvalidPath is returned for empty config paths or empty path segments.
	ErrInvalidPath = errors.New("camera: invalid config path")

	// ErrPathConflict is returned when a config path traverses a value that
	// is not a mapping.
	ErrPathConflict = errors.New("camera: config path traverses a non-mapping value")

	// ErrUnencodable is returned when a config value has no JSON form, such
	// as NaN, an infinity, a channel or a function.
	ErrUnencodable = errors.New("camera: config value cannot be encoded as JSON")

	// ErrMissingDependency is returned by NewSession when a required option is nil.
	ErrMissingDependency = errors.New("camera: missing dependency")
)
