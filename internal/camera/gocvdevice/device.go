package gocvdevice

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

// DefaultWindowName is the preview window title.
const DefaultWindowName = "camera"

// Opener opens OpenCV video capture devices.
type Opener struct{}

// Open opens the capture device at index.
func (Opener) Open(index int) (camera.Device, error) {
	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: index %d: %w", camera.ErrOpenFailed, index, err)
	}
	if !capture.IsOpened() {
		capture.Close() //nolint:errcheck // open already failed
		return nil, fmt.Errorf("%w: index %d", camera.ErrOpenFailed, index)
	}
	return &device{capture: capture}, nil
}

type device struct {
	capture *gocv.VideoCapture
}

// Configure applies the capture parameters. Drivers silently ignore values
// they do not support, so the result is read back and any mismatch reported.
func (d *device) Configure(p camera.Params) error {
	d.capture.Set(gocv.VideoCaptureFrameWidth, float64(p.Width))
	d.capture.Set(gocv.VideoCaptureFrameHeight, float64(p.Height))
	d.capture.Set(gocv.VideoCaptureFPS, float64(p.FPS))

	width := int(d.capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(d.capture.Get(gocv.VideoCaptureFrameHeight))
	if width != p.Width || height != p.Height {
		return fmt.Errorf("device negotiated %dx%d, requested %dx%d", width, height, p.Width, p.Height)
	}
	return nil
}

func (d *device) Read() (camera.Frame, error) {
	mat := gocv.NewMat()
	if ok := d.capture.Read(&mat); !ok {
		mat.Close() //nolint:errcheck // read already failed
		return nil, fmt.Errorf("%w: device returned no frame", camera.ErrFrameRead)
	}
	if mat.Empty() {
		mat.Close() //nolint:errcheck // read already failed
		return nil, fmt.Errorf("%w: empty frame", camera.ErrFrameRead)
	}
	return &Frame{Mat: mat}, nil
}

func (d *device) Close() error {
	return d.capture.Close()
}

// Frame wraps an OpenCV matrix.
type Frame struct {
	Mat gocv.Mat
}

// Close releases the matrix.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Encoder encodes frames with OpenCV's JPEG codec.
type Encoder struct{}

// EncodeJPEG encodes a frame produced by this package.
func (Encoder) EncodeJPEG(f camera.Frame) ([]byte, error) {
	frame, ok := f.(*Frame)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported frame type %T", camera.ErrEncode, f)
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame.Mat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", camera.ErrEncode, err)
	}
	defer buf.Close()

	// The native buffer is freed on Close, so the bytes must be copied out.
	native := buf.GetBytes()
	out := make([]byte, len(native))
	copy(out, native)
	return out, nil
}

// Window is a preview window created on first use.
//
// It must be driven from a single OS thread; the capture loop locks its
// thread when a display is attached.
type Window struct {
	name string

	mu     sync.Mutex
	window *gocv.Window
}

// NewWindow returns a preview window with the given title.
func NewWindow(name string) *Window {
	if name == "" {
		name = DefaultWindowName
	}
	return &Window{name: name}
}

// Show draws the frame, opening the window if needed.
func (w *Window) Show(f camera.Frame) {
	frame, ok := f.(*Frame)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.window == nil {
		w.window = gocv.NewWindow(w.name)
	}
	w.window.IMShow(frame.Mat)
}

// PollKey waits one millisecond for a key press and returns it, or -1.
func (w *Window) PollKey() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.window == nil {
		return -1
	}
	key := w.window.WaitKey(1)
	if key < 0 {
		return -1
	}
	return key & 0xFF
}

// Close destroys the window. A later Show opens a new one.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.window == nil {
		return nil
	}
	err := w.window.Close()
	w.window = nil
	return err
}
