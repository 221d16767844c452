package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
)

// Client is the camera node's broker connection.
//
// It announces the node's availability on graylogic/camera/{device_id}/availability
// (retained, with a matching Last Will), restores subscriptions after every
// reconnect and counts traffic for status output. All methods are safe for
// concurrent use.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	deviceID string

	subMu sync.RWMutex
	subs  map[string]subscription

	connected atomic.Bool
	onConnect atomic.Pointer[func()]
	logger    atomic.Pointer[Logger]

	published     atomic.Uint64
	publishFailed atomic.Uint64
	received      atomic.Uint64
	handlerErrors atomic.Uint64
	reconnects    atomic.Uint64
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one inbound message. Handlers run on paho's
// goroutines; a returned error is counted and logged.
type MessageHandler func(topic string, payload []byte) error

// Stats counts broker traffic since Connect.
type Stats struct {
	Published     uint64 `json:"published"`
	PublishFailed uint64 `json:"publish_failed"`
	Received      uint64 `json:"received"`
	HandlerErrors uint64 `json:"handler_errors"`
	Reconnects    uint64 `json:"reconnects"`
	Subscriptions int    `json:"subscriptions"`
}

// Connect dials the broker for camera deviceID and waits for the first
// connection. The node is announced online once connected.
//
// Returns ErrDisabled when cfg.Enabled is false and ErrConnectionFailed
// when the broker cannot be reached within the connect timeout.
func Connect(cfg config.MQTTConfig, deviceID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := newClient(cfg, deviceID)

	opts := buildClientOptions(cfg)
	configureLWT(opts, deviceID, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.reconnects.Add(1)
		c.log().Info("MQTT reconnecting", "device_id", deviceID)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnect fires asynchronously; callers expect IsConnected straight away.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig, deviceID string) *Client {
	return &Client{
		cfg:      cfg,
		deviceID: deviceID,
		subs:     make(map[string]subscription),
	}
}

// await waits for a paho token, turning a timeout into an error.
func await(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout after %v", timeout)
	}
	return token.Error()
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.announce(statusOnline, "")

	if cb := c.onConnect.Load(); cb != nil && *cb != nil {
		(*cb)()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.log().Warn("MQTT connection lost", "device_id", c.deviceID, "error", err)
}

// restoreSubscriptions re-subscribes after a reconnect. The broker session
// is clean, so nothing survives on its side.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subs {
		if err := await(c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler)), defaultPublishTimeout); err != nil {
			c.log().Warn("MQTT resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// announce publishes the retained availability message for this camera.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	payload := buildStatusPayload(status, c.deviceID, c.cfg.Broker.ClientID, reason)
	return c.client.Publish(Topics{}.CameraAvailability(c.deviceID), c.QoS(), true, payload)
}

// Close announces a graceful offline and disconnects. Closing a nil or
// never-connected client is not an error.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.announce(statusOffline, reasonGraceful).WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected when the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// Stats returns traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Published:     c.published.Load(),
		PublishFailed: c.publishFailed.Load(),
		Received:      c.received.Load(),
		HandlerErrors: c.handlerErrors.Load(),
		Reconnects:    c.reconnects.Load(),
		Subscriptions: c.SubscriptionCount(),
	}
}

// SetOnConnect sets a callback invoked after each connection, once
// subscriptions are restored. The initial connection may complete before
// the callback is set, so it is only guaranteed to see reconnects.
func (c *Client) SetOnConnect(callback func()) {
	c.onConnect.Store(&callback)
}

// SetLogger sets the logger for connection and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.logger.Store(&logger)
}

func (c *Client) log() Logger {
	if l := c.logger.Load(); l != nil && *l != nil {
		return *l
	}
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one bad
// command cannot take down the router goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)
		defer func() {
			if r := recover(); r != nil {
				c.handlerErrors.Add(1)
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.handlerErrors.Add(1)
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
