package camera

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeFrame records whether it was released.
type fakeFrame struct {
	seq    int
	closed atomic.Bool
}

func (f *fakeFrame) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeDevice hands out frames at a fixed pace.
type fakeDevice struct {
	mu           sync.Mutex
	params       Params
	reads        int
	failAfter    int // fail reads once this many succeeded; 0 disables
	readDelay    time.Duration
	block        chan struct{} // when set, Read blocks until it is closed
	configureErr error
	closed       bool
	concurrent   int32
	overlap      atomic.Bool
}

func (d *fakeDevice) Configure(p Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = p
	return d.configureErr
}

func (d *fakeDevice) Read() (Frame, error) {
	if atomic.AddInt32(&d.concurrent, 1) > 1 {
		d.overlap.Store(true)
	}
	defer atomic.AddInt32(&d.concurrent, -1)

	if d.block != nil {
		<-d.block
	}
	if d.readDelay > 0 {
		time.Sleep(d.readDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAfter > 0 && d.reads >= d.failAfter {
		return nil, errors.New("usb disconnected")
	}
	d.reads++
	return &fakeFrame{seq: d.reads}, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// fakeOpener returns the configured device or error.
type fakeOpener struct {
	mu      sync.Mutex
	device  *fakeDevice
	err     error
	indexes []int
}

func (o *fakeOpener) Open(index int) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.indexes = append(o.indexes, index)
	if o.err != nil {
		return nil, o.err
	}
	return o.device, nil
}

// fakeEncoder returns a fixed payload.
type fakeEncoder struct {
	data []byte
	err  error
}

func (e fakeEncoder) EncodeJPEG(Frame) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.data, nil
}

// fakeDisplay presses a key after a number of frames.
type fakeDisplay struct {
	mu       sync.Mutex
	shown    int
	quitAt   int
	closed   int
	lastSeen *fakeFrame
}

func (d *fakeDisplay) Show(f Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown++
	d.lastSeen, _ = f.(*fakeFrame)
}

func (d *fakeDisplay) PollKey() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quitAt > 0 && d.shown >= d.quitAt {
		return 'q'
	}
	return -1
}

func (d *fakeDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) has(t EventType) bool {
	for _, typ := range r.types() {
		if typ == t {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
