package camera

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle or capture event.
type EventType string

// Event types emitted by Session.
const (
	EventStarted        EventType = "started"
	EventOpenFailed     EventType = "open_failed"
	EventReadFailed     EventType = "read_failed"
	EventStopped        EventType = "stopped"
	EventStopTimeout    EventType = "stop_timeout"
	EventSnapshot       EventType = "snapshot"
	EventSnapshotFailed EventType = "snapshot_failed"
	EventQuitKey        EventType = "quit_key"
	EventConfigUpdated  EventType = "config_updated"
)

// AllEventTypes lists every event type in emission order of a normal run.
var AllEventTypes = []EventType{
	EventStarted,
	EventOpenFailed,
	EventReadFailed,
	EventStopped,
	EventStopTimeout,
	EventSnapshot,
	EventSnapshotFailed,
	EventQuitKey,
	EventConfigUpdated,
}

// ChangesState reports whether the event accompanies a RunState transition.
func (t EventType) ChangesState() bool {
	switch t {
	case EventStarted, EventOpenFailed, EventReadFailed, EventStopped, EventStopTimeout, EventQuitKey:
		return true
	default:
		return false
	}
}

// Event describes something that happened to the session.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	CameraIndex int            `json:"camera_index"`
	State       State          `json:"state"`
	Detail      map[string]any `json:"detail,omitempty"`
	Err         string         `json:"error,omitempty"`
	Time        time.Time      `json:"timestamp"`

	// Snapshot is set on EventSnapshot only.
	Snapshot *Snapshot `json:"-"`
}

func newEvent(typ EventType, index int, state State) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		CameraIndex: index,
		State:       state,
		Time:        time.Now().UTC(),
	}
}

// Observer receives session events.
//
// OnEvent is called synchronously on the goroutine that produced the event,
// which may be the capture loop. Implementations must return quickly and must
// not call Session.Stop from within OnEvent.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(e Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// observers is a concurrency-safe fan-out list.
type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	o.mu.Lock()
	o.list = append(o.list, obs)
	o.mu.Unlock()
}

func (o *observers) notify(e Event, logger Logger) {
	o.mu.RLock()
	list := make([]Observer, len(o.list))
	copy(list, o.list)
	o.mu.RUnlock()

	for _, obs := range list {
		notifyOne(obs, e, logger)
	}
}

func notifyOne(obs Observer, e Event, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in camera event observer", "event", e.Type, "panic", r)
		}
	}()
	obs.OnEvent(e)
}
