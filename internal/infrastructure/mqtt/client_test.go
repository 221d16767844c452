package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-camera-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Fake paho client
// =============================================================================

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	published    []published
	subscribed   map[string]pahomqtt.MessageHandler
	unsubscribed []string
	disconnected bool
	tokenErr     error
	tokenTimeout bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, subscribed: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) token() pahomqtt.Token {
	return &fakeToken{err: f.tokenErr, timeout: f.tokenTimeout}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() pahomqtt.Token {
	return f.token()
}
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}
func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}
	f.published = append(f.published, published{topic, qos, retained, body})
	return f.token()
}
func (f *fakePaho) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = cb
	return f.token()
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return f.token()
}
func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.subscribed, t)
		f.unsubscribed = append(f.unsubscribed, t)
	}
	return f.token()
}
func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}
func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	var cb pahomqtt.MessageHandler
	for pattern, h := range f.subscribed {
		if pattern == topic {
			cb = h
		}
	}
	f.mu.Unlock()
	if cb != nil {
		cb(f, &fakeMessage{topic: topic, payload: payload})
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+msg)
}
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }
func (l *recordingLogger) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// connectedClient returns a Client wired to a fake paho client.
func connectedClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig(), "porch-cam")
	c.client = fake
	c.connected.Store(true)
	return c, fake
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(cfg, "porch-cam"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestClose_PublishesGracefulOffline(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if !fake.disconnected {
		t.Error("Close() did not disconnect")
	}
	if len(fake.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fake.published))
	}
	msg := fake.published[0]
	if msg.topic != "graylogic/camera/porch-cam/availability" || !msg.retained {
		t.Errorf("offline status = %+v, want retained on the availability topic", msg)
	}
	var status statusPayload
	if err := json.Unmarshal(msg.payload, &status); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if status.Status != "offline" || status.Reason != "graceful_shutdown" || status.DeviceID != "porch-cam" {
		t.Errorf("status = %+v, want graceful offline", status)
	}
}

func TestHealthCheck(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	fake.Disconnect(0)
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestHandleConnect_RestoresAndAnnounces(t *testing.T) {
	c, fake := connectedClient(t)
	topic := Topics{}.CameraCommand("porch-cam")
	if err := c.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatal(err)
	}
	fake.subscribed = make(map[string]pahomqtt.MessageHandler)

	called := make(chan struct{}, 1)
	c.SetOnConnect(func() { called <- struct{}{} })
	c.handleConnect()

	if _, ok := fake.subscribed[topic]; !ok {
		t.Error("subscription not restored on reconnect")
	}
	last := fake.published[len(fake.published)-1]
	if !strings.Contains(string(last.payload), `"status":"online"`) {
		t.Errorf("online status payload = %s", last.payload)
	}
	select {
	case <-called:
	default:
		t.Error("OnConnect callback not invoked")
	}
}

func TestHandleDisconnect(t *testing.T) {
	c, _ := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.handleDisconnect(errors.New("network down"))

	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	if !logger.contains("connection lost") {
		t.Error("connection loss not logged")
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.Publish("graylogic/camera/porch-cam/ack", []byte(`{}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := c.PublishString("graylogic/camera/porch-cam/event/started", "{}", 0, false); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}
	if err := c.PublishRetained("graylogic/camera/porch-cam/status", []byte(`{}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	if len(fake.published) != 3 {
		t.Fatalf("published %d messages, want 3", len(fake.published))
	}
	if retained := fake.published[2]; !retained.retained || retained.qos != 1 {
		t.Errorf("PublishRetained() = %+v, want retained at QoS 1", retained)
	}
}

func TestPublish_Errors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		setup   func(*fakePaho)
		want    error
	}{
		{"empty topic", "", nil, 1, nil, ErrInvalidTopic},
		{"invalid qos", "t", nil, 3, nil, ErrInvalidQoS},
		{"oversized", "t", make([]byte, maxPayloadSize+1), 1, nil, ErrPublishFailed},
		{"disconnected", "t", nil, 1, func(f *fakePaho) { f.connected = false }, ErrNotConnected},
		{"token error", "t", nil, 1, func(f *fakePaho) { f.tokenErr = errors.New("nack") }, ErrPublishFailed},
		{"timeout", "t", nil, 1, func(f *fakePaho) { f.tokenTimeout = true }, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := connectedClient(t)
			if tt.setup != nil {
				tt.setup(fake)
			}
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribe_DeliversMessages(t *testing.T) {
	c, fake := connectedClient(t)
	topic := Topics{}.CameraCommand("porch-cam")

	received := make(chan []byte, 1)
	err := c.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !hasSubscription(c, topic) || c.SubscriptionCount() != 1 {
		t.Errorf("subscription not tracked")
	}

	fake.deliver(topic, []byte(`{"command":"start"}`))
	select {
	case got := <-received:
		if string(got) != `{"command":"start"}` {
			t.Errorf("payload = %s", got)
		}
	default:
		t.Error("handler not invoked")
	}
}

func TestSubscribe_Errors(t *testing.T) {
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		setup   func(*fakePaho)
		want    error
	}{
		{"empty topic", "", 1, noop, nil, ErrInvalidTopic},
		{"invalid qos", "t", 3, noop, nil, ErrInvalidQoS},
		{"nil handler", "t", 1, nil, nil, ErrSubscribeFailed},
		{"disconnected", "t", 1, noop, func(f *fakePaho) { f.connected = false }, ErrNotConnected},
		{"token error", "t", 1, noop, func(f *fakePaho) { f.tokenErr = errors.New("denied") }, ErrSubscribeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := connectedClient(t)
			if tt.setup != nil {
				tt.setup(fake)
			}
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
			if c.SubscriptionCount() != 0 {
				t.Error("failed subscription is still tracked")
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	c, fake := connectedClient(t)
	topic := Topics{}.CameraCommand("porch-cam")
	if err := c.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatal(err)
	}

	if err := c.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if hasSubscription(c, topic) {
		t.Error("subscription still tracked after Unsubscribe()")
	}
	if len(fake.unsubscribed) != 1 || fake.unsubscribed[0] != topic {
		t.Errorf("broker unsubscribe calls = %v", fake.unsubscribed)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
}

func TestWrapHandler_ErrorsAndPanics(t *testing.T) {
	c, fake := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	if err := c.Subscribe("a", 1, func(string, []byte) error { return errors.New("bad payload") }); err != nil {
		t.Fatal(err)
	}
	if err := c.Subscribe("b", 1, func(string, []byte) error { panic("boom") }); err != nil {
		t.Fatal(err)
	}

	fake.deliver("a", nil)
	fake.deliver("b", nil)

	if !logger.contains("WARN: MQTT handler returned error") {
		t.Error("handler error not logged")
	}
	if !logger.contains("ERROR: MQTT handler panic recovered") {
		t.Error("handler panic not recovered and logged")
	}
	if st := c.Stats(); st.Received != 2 || st.HandlerErrors != 2 {
		t.Errorf("Stats() = %+v, want 2 received and 2 handler errors", st)
	}
}

func TestStats_CountsPublishes(t *testing.T) {
	c, fake := connectedClient(t)
	if err := c.Subscribe(Topics{}.CameraCommand("porch-cam"), 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatal(err)
	}

	if err := c.Publish("graylogic/camera/porch-cam/ack", []byte(`{}`), 1, false); err != nil {
		t.Fatal(err)
	}
	fake.tokenErr = errors.New("nack")
	if err := c.Publish("graylogic/camera/porch-cam/ack", []byte(`{}`), 1, false); err == nil {
		t.Fatal("Publish() with failing token succeeded")
	}
	// Rejected before reaching the broker: not counted.
	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("Publish(\"\") error = %v", err)
	}

	want := Stats{Published: 1, PublishFailed: 1, Subscriptions: 1}
	if got := c.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestHandleConnect_LogsResubscribeFailure(t *testing.T) {
	c, fake := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)
	if err := c.Subscribe(Topics{}.CameraCommand("porch-cam"), 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatal(err)
	}

	fake.tokenErr = errors.New("not authorised")
	c.handleConnect()

	if !logger.contains("WARN: MQTT resubscribe failed") {
		t.Error("resubscribe failure not logged")
	}
	if !hasSubscription(c, Topics{}.CameraCommand("porch-cam")) {
		t.Error("subscription forgotten after failed resubscribe")
	}
}

func TestLogger_NilIsSafe(t *testing.T) {
	c, fake := connectedClient(t)
	c.SetLogger(nil)
	if err := c.Subscribe("a", 1, func(string, []byte) error { return errors.New("bad") }); err != nil {
		t.Fatal(err)
	}
	fake.deliver("a", nil)
	c.handleDisconnect(errors.New("gone"))
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "camera"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "graylogic-camera-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "camera" || opts.Password != "secret" {
		t.Errorf("credentials not applied")
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Errorf("CleanSession=%v AutoReconnect=%v, want both true", opts.CleanSession, opts.AutoReconnect)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.Order {
		t.Error("Order = true, want unordered delivery")
	}
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want %v", opts.KeepAlive, defaultKeepAlive)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("server = %q, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want TLS 1.2 minimum", opts.TLSConfig)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "porch-cam", "graylogic-camera-test")

	if !opts.WillEnabled || opts.WillTopic != "graylogic/camera/porch-cam/availability" {
		t.Errorf("will = enabled:%v topic:%q", opts.WillEnabled, opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will retained=%v qos=%d, want retained QoS 1", opts.WillRetained, opts.WillQos)
	}

	var will statusPayload
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if will.Status != "offline" || will.Reason != "unexpected_disconnect" ||
		will.ClientID != "graylogic-camera-test" || will.DeviceID != "porch-cam" {
		t.Errorf("will = %+v", will)
	}
	if _, err := time.Parse(time.RFC3339, will.Timestamp); err != nil {
		t.Errorf("will timestamp %q: %v", will.Timestamp, err)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"CameraCommand", topics.CameraCommand("porch-cam"), "graylogic/camera/porch-cam/command"},
		{"CameraAck", topics.CameraAck("porch-cam"), "graylogic/camera/porch-cam/ack"},
		{"CameraStatus", topics.CameraStatus("porch-cam"), "graylogic/camera/porch-cam/status"},
		{"CameraSnapshot", topics.CameraSnapshot("porch-cam"), "graylogic/camera/porch-cam/snapshot"},
		{"CameraEvent", topics.CameraEvent("porch-cam", "started"), "graylogic/camera/porch-cam/event/started"},
		{"CameraAvailability", topics.CameraAvailability("porch-cam"), "graylogic/camera/porch-cam/availability"},
		{"AllCameraCommands", topics.AllCameraCommands(), "graylogic/camera/+/command"},
		{"AllCameraEvents", topics.AllCameraEvents("porch-cam"), "graylogic/camera/porch-cam/event/+"},
		{"AllCameraStatus", topics.AllCameraStatus(), "graylogic/camera/+/status"},
		{"AllCameraAvailability", topics.AllCameraAvailability(), "graylogic/camera/+/availability"},
		{"AllTopics", topics.AllTopics(), "graylogic/camera/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func hasSubscription(c *Client, topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}
