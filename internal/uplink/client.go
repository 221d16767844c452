// Package uplink maintains the outbound WebSocket to the voice-assistant
// server and forwards snapshot envelopes over it.
package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
)

// Connection constants.
const (
	defaultInitialBackoff = 3 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	handshakeTimeout      = 10 * time.Second
	writeTimeout          = 10 * time.Second
	closeGracePeriod      = time.Second

	// outboxSize bounds snapshot envelopes waiting for the sender.
	outboxSize = 8
)

// Config describes the uplink endpoint and identity.
type Config struct {
	URL             string
	AccessToken     string
	DeviceID        string
	ClientID        string
	ProtocolVersion int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// FromConfig maps the service uplink section onto Config. DeviceMAC falls
// back to deviceID and an empty ClientID gets a random UUID.
func FromConfig(c config.UplinkConfig, deviceID string) Config {
	cfg := Config{
		URL:             c.URL,
		AccessToken:     c.AccessToken,
		DeviceID:        c.DeviceMAC,
		ClientID:        c.ClientID,
		ProtocolVersion: c.ProtocolVersion,
		InitialBackoff:  time.Duration(c.Reconnect.InitialDelay) * time.Second,
		MaxBackoff:      time.Duration(c.Reconnect.MaxDelay) * time.Second,
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = deviceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	return cfg
}

// Logger is the structured logger used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Stats reports uplink activity.
type Stats struct {
	Connected     bool   `json:"connected"`
	Connects      uint64 `json:"connects"`
	Sent          uint64 `json:"sent"`
	Received      uint64 `json:"received"`
	BinaryDropped uint64 `json:"binary_dropped"`
	Dropped       uint64 `json:"dropped"`
}

// Client keeps one WebSocket open to the upstream server, reconnecting
// with exponential backoff.
//
// Snapshot events are queued and written by a sender goroutine, so OnEvent
// never waits on the network.
//
// Thread Safety: All methods are safe for concurrent use. Writes are
// serialised on an internal lock.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger Logger

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex

	onMessage func(msgType string, raw []byte)

	outbox chan []byte

	connects      atomic.Uint64
	sent          atomic.Uint64
	received      atomic.Uint64
	binaryDropped atomic.Uint64
	dropped       atomic.Uint64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
	closed      bool
}

// New validates cfg and returns an idle client. Call Start to connect.
func New(cfg Config, logger Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.ProtocolVersion <= 0 {
		cfg.ProtocolVersion = camera.EnvelopeVersion
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
		outbox: make(chan []byte, outboxSize),
	}, nil
}

// SetOnMessage registers a callback for inbound text messages.
// It must be set before Start.
func (c *Client) SetOnMessage(fn func(msgType string, raw []byte)) {
	c.onMessage = fn
}

// Start launches the connect loop and the snapshot sender. It returns
// immediately; the first connection is attempted in the background.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(2)
	go c.connectLoop(ctx)
	go c.sendLoop(ctx)
	return nil
}

// Close stops reconnecting, closes the connection and waits for both
// goroutines to exit. Queued snapshots are discarded.
func (c *Client) Close() error {
	c.lifecycleMu.Lock()
	c.closed = true
	cancel := c.cancel
	c.lifecycleMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	c.wg.Wait()
	return nil
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Stats returns a snapshot of the uplink counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:     c.IsConnected(),
		Connects:      c.connects.Load(),
		Sent:          c.sent.Load(),
		Received:      c.received.Load(),
		BinaryDropped: c.binaryDropped.Load(),
		Dropped:       c.dropped.Load(),
	}
}

// Send writes raw as one text frame.
func (c *Client) Send(raw []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := c.write(conn, raw); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

// OnEvent implements camera.Observer by queueing snapshot envelopes for
// the sender. A full queue drops the snapshot.
func (c *Client) OnEvent(e camera.Event) {
	if e.Type != camera.EventSnapshot || e.Snapshot == nil {
		return
	}
	raw, err := e.Snapshot.JSON()
	if err != nil {
		return
	}
	select {
	case c.outbox <- raw:
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("uplink queue full, dropping snapshot", "dropped", n)
	}
}

// sendLoop writes queued snapshots until ctx is cancelled.
func (c *Client) sendLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-c.outbox:
			if err := c.Send(raw); err != nil {
				c.logger.Debug("snapshot not forwarded upstream", "error", err)
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // a failed deadline surfaces on write
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("uplink write: %w", err)
	}
	return nil
}

// header builds the handshake headers expected by the server.
func (c *Client) header() http.Header {
	h := http.Header{}
	if c.cfg.AccessToken != "" {
		h.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	h.Set("Protocol-Version", strconv.Itoa(c.cfg.ProtocolVersion))
	h.Set("Device-Id", c.cfg.DeviceID)
	h.Set("Client-Id", c.cfg.ClientID)
	return h
}

// connectLoop keeps a session open until ctx is cancelled.
func (c *Client) connectLoop(ctx context.Context) {
	defer c.wg.Done()

	backoff := c.cfg.InitialBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = c.cfg.InitialBackoff
		}
		c.logger.Warn("uplink disconnected, retrying",
			"error", err,
			"retry_in", backoff.String())

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// session dials, sends hello and reads until the connection fails.
// connected reports whether the handshake succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.header())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("uplink dial: %w", err)
	}

	hello, err := json.Marshal(NewHello(c.cfg.ProtocolVersion))
	if err == nil {
		err = c.write(conn, hello)
	}
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("uplink hello: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connects.Add(1)
	c.logger.Info("uplink connected", "url", c.cfg.URL, "device_id", c.cfg.DeviceID)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Unblock ReadMessage when the client is closed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best-effort close frame
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
				time.Now().Add(closeGracePeriod))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("uplink read: %w", err)
		}
		c.handleMessage(kind, data)
	}
}

func (c *Client) handleMessage(kind int, data []byte) {
	if kind == websocket.BinaryMessage {
		// Audio frames are not consumed by this service.
		c.binaryDropped.Add(1)
		return
	}

	c.received.Add(1)
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("undecodable uplink message", "error", err, "size", len(data))
		return
	}
	c.logger.Info("uplink message", "type", msg.Type, "state", msg.State)

	if c.onMessage != nil {
		c.onMessage(msg.Type, data)
	}
}
