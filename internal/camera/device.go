package camera

// Params are the capture parameters applied to a freshly opened device.
type Params struct {
	Width  int
	Height int
	FPS    int
}

// Frame is a single captured image owned by whoever read it.
// The owner must call Close once the frame is no longer needed.
type Frame interface {
	Close() error
}

// Device is an open capture handle.
//
// Read blocks until the hardware delivers a frame or fails. Implementations
// are not required to be safe for concurrent use; Session serialises every
// call on the handle.
type Device interface {
	Configure(p Params) error
	Read() (Frame, error)
	Close() error
}

// Opener opens capture devices by index.
type Opener interface {
	Open(index int) (Device, error)
}

// Encoder converts a frame into compressed JPEG bytes.
type Encoder interface {
	EncodeJPEG(f Frame) ([]byte, error)
}

// Display is an optional local preview window.
//
// PollKey returns the last key pressed, or -1 when none is pending.
type Display interface {
	Show(f Frame)
	PollKey() int
	Close() error
}
