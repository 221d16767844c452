package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/mqtt"
)

// queueSize bounds outbound messages waiting for the broker.
const queueSize = 64

// defaultQoS is used when Options.QoS is zero.
const defaultQoS = 1

// MQTTClient is the subset of the MQTT client the bridge uses.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Camera is the session surface driven by commands.
type Camera interface {
	Start(ctx context.Context) error
	Stop() error
	Capture() (*camera.Snapshot, error)
	Stats() camera.Stats
	State() camera.State
}

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	// DeviceID keys every topic: graylogic/camera/{DeviceID}/...
	DeviceID string

	// MQTT is the broker connection.
	MQTT MQTTClient

	// Camera is the capture session.
	Camera Camera

	// SnapshotInterval publishes a snapshot this often while the camera is
	// active. Zero disables periodic snapshots.
	SnapshotInterval time.Duration

	// QoS for all publishes. Zero means 1.
	QoS byte

	Logger Logger
}

// outbound is one message waiting for the publisher goroutine.
type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Bridge connects a camera session to MQTT.
//
// It handles:
//   - Commands on graylogic/camera/{id}/command, answered on .../ack
//   - Retained session status on .../status after every state change
//   - Snapshot envelopes on .../snapshot and events on .../event/{type}
//
// All publishes go through one goroutine so MQTT handlers never wait on
// broker acknowledgements.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	deviceID string
	mqtt     MQTTClient
	cam      Camera
	interval time.Duration
	qos      byte
	topics   mqtt.Topics
	logger   Logger

	queue   chan outbound
	dropped atomic.Uint64

	runCtx   context.Context
	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Bridge. Call Start to subscribe and begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client", ErrMissingDependency)
	}
	if opts.Camera == nil {
		return nil, fmt.Errorf("%w: camera", ErrMissingDependency)
	}
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id", ErrMissingDependency)
	}

	b := &Bridge{
		deviceID: opts.DeviceID,
		mqtt:     opts.MQTT,
		cam:      opts.Camera,
		interval: opts.SnapshotInterval,
		qos:      opts.QoS,
		logger:   opts.Logger,
		queue:    make(chan outbound, queueSize),
		runCtx:   context.Background(),
		done:     make(chan struct{}),
	}
	if b.qos == 0 {
		b.qos = defaultQoS
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b, nil
}

// Start subscribes to the command topic and starts the publisher.
//
// ctx is handed to Camera.Start for start commands, so cancelling it also
// ends capture runs begun over MQTT.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}
	b.runCtx = ctx

	b.wg.Add(1)
	go b.publishLoop()

	commandTopic := b.topics.CameraCommand(b.deviceID)
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	b.publishStatus()

	if b.interval > 0 {
		b.wg.Add(1)
		go b.snapshotLoop(ctx)
	}

	b.logger.Info("camera bridge started",
		"device_id", b.deviceID,
		"snapshot_interval", b.interval.String())

	return nil
}

// Stop drops the command subscription and halts the publisher and ticker.
// Queued messages are flushed first.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.started.Load() {
			if err := b.mqtt.Unsubscribe(b.topics.CameraCommand(b.deviceID)); err != nil {
				b.logger.Debug("command unsubscribe failed", "error", err)
			}
		}
		close(b.done)
		b.wg.Wait()
		b.logger.Info("camera bridge stopped", "dropped", b.dropped.Load())
	})
}

// Resync republishes the retained status. It is meant for the MQTT
// reconnect callback, since the broker may have restarted without its
// retained messages.
func (b *Bridge) Resync() {
	b.publishStatus()
}

// Dropped returns how many outbound messages were discarded because the
// queue was full.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// OnEvent implements camera.Observer.
func (b *Bridge) OnEvent(e camera.Event) {
	if payload, err := json.Marshal(e); err == nil {
		b.enqueue(b.topics.CameraEvent(b.deviceID, string(e.Type)), payload, false)
	}

	if e.Type == camera.EventSnapshot && e.Snapshot != nil {
		if payload, err := e.Snapshot.JSON(); err == nil {
			b.enqueue(b.topics.CameraSnapshot(b.deviceID), payload, false)
		}
	}

	if e.Type.ChangesState() || e.Type == camera.EventConfigUpdated {
		b.publishStatus()
	}
}

// handleMessage processes one command. Failures are reported on the ack
// topic; the handler always returns nil.
func (b *Bridge) handleMessage(_ string, payload []byte) error {
	cmd, err := ParseCommand(payload)
	if err != nil {
		b.logger.Warn("invalid camera command", "error", err)
		code := ErrCodeInvalidPayload
		if cmd.Command != "" {
			code = ErrCodeInvalidCommand
		}
		b.publishAck(cmd, &AckError{Code: code, Message: err.Error()})
		return nil
	}

	b.logger.Info("received camera command",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"source", cmd.Source)

	if err := b.execute(cmd); err != nil {
		b.logger.Warn("camera command failed",
			"command_id", cmd.ID,
			"command", cmd.Command,
			"error", err)
		b.publishAck(cmd, &AckError{Code: errorCode(err), Message: err.Error()})
		return nil
	}

	b.publishAck(cmd, nil)
	return nil
}

func (b *Bridge) execute(cmd CommandMessage) error {
	switch cmd.Command {
	case CommandStart:
		return b.cam.Start(b.runCtx)
	case CommandStop:
		return b.cam.Stop()
	case CommandSnapshot:
		_, err := b.cam.Capture()
		return err
	case CommandStatus:
		b.publishStatus()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

func (b *Bridge) publishAck(cmd CommandMessage, ackErr *AckError) {
	ack := AckMessage{
		CommandID: cmd.ID,
		DeviceID:  b.deviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Error:     ackErr,
		Timestamp: time.Now().UTC(),
	}
	if ackErr != nil {
		ack.Status = AckFailed
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	b.enqueue(b.topics.CameraAck(b.deviceID), payload, false)
}

func (b *Bridge) publishStatus() {
	payload, err := json.Marshal(StatusMessage{
		DeviceID:  b.deviceID,
		Status:    b.cam.Stats(),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("failed to marshal status", "error", err)
		return
	}
	b.enqueue(b.topics.CameraStatus(b.deviceID), payload, true)
}

// enqueue hands a message to the publisher without blocking.
func (b *Bridge) enqueue(topic string, payload []byte, retained bool) {
	select {
	case b.queue <- outbound{topic: topic, payload: payload, retained: retained}:
	default:
		b.dropped.Add(1)
		b.logger.Warn("dropping MQTT message", "topic", topic, "error", ErrQueueFull)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case msg := <-b.queue:
			b.publish(msg)
		case <-b.done:
			for {
				select {
				case msg := <-b.queue:
					b.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(msg outbound) {
	if err := b.mqtt.Publish(msg.topic, msg.payload, b.qos, msg.retained); err != nil {
		b.logger.Warn("MQTT publish failed", "topic", msg.topic, "error", err)
	}
}

// snapshotLoop captures a frame every interval while the camera is active.
// The snapshot event it produces is published by OnEvent.
func (b *Bridge) snapshotLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.cam.State() != camera.StateActive {
				continue
			}
			if _, err := b.cam.Capture(); err != nil {
				b.logger.Debug("periodic snapshot failed", "error", err)
			}
		}
	}
}
