package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure returned by Validate and Load.
var ErrInvalid = errors.New("invalid configuration")

// Config is the camera service configuration: built-in defaults, then the
// YAML file, then GRAYLOGIC_* environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Camera    CameraConfig    `yaml:"camera"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Uplink    UplinkConfig    `yaml:"uplink"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies this camera node on the bus and upstream.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// CameraConfig contains capture service settings.
// The capture parameters themselves live in the JSON file at ConfigPath.
type CameraConfig struct {
	// ConfigPath is the JSON file holding camera_index, frame size and fps.
	ConfigPath string `yaml:"config_path"`

	// StopTimeout is how long Stop waits for the capture loop (in seconds).
	StopTimeout int `yaml:"stop_timeout"`

	// Display opens a local preview window; pressing 'q' in it stops capture.
	Display bool `yaml:"display"`

	// WindowName is the preview window title.
	WindowName string `yaml:"window_name"`

	// AutoStart starts the capture loop when the service starts.
	AutoStart bool `yaml:"auto_start"`

	// SnapshotInterval publishes a snapshot every N seconds while active.
	// 0 disables periodic snapshots.
	SnapshotInterval int `yaml:"snapshot_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// UplinkConfig contains the outbound WebSocket connection settings.
type UplinkConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	URL             string                `yaml:"url"`
	AccessToken     string                `yaml:"access_token"`
	DeviceMAC       string                `yaml:"device_mac"`
	ClientID        string                `yaml:"client_id"`
	ProtocolVersion int                   `yaml:"protocol_version"`
	Reconnect       UplinkReconnectConfig `yaml:"reconnect"`
}

// UplinkReconnectConfig contains uplink backoff settings (in seconds).
type UplinkReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
//
// A missing file is reported with an error wrapping fs.ErrNotExist, so the
// CLI can fall back to Default.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is not validated.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "camera-001",
			Name: "Gray Logic Camera",
		},
		Camera: CameraConfig{
			ConfigPath:  "config/camera_config.json",
			StopTimeout: 5,
			WindowName:  "camera",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-camera.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-camera",
			},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		API: APIConfig{
			Enabled:  true,
			Host:     "0.0.0.0",
			Port:     8090,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		Uplink: UplinkConfig{
			ProtocolVersion: 1,
			Reconnect:       UplinkReconnectConfig{InitialDelay: 3, MaxDelay: 60},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// envOverride binds one GRAYLOGIC_* variable to a config field.
type envOverride struct {
	key   string
	apply func(c *Config, value string) error
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", v)
		}
		*field(c) = b
		return nil
	}
}

// envOverrides lists the supported variables. Secrets belong here rather
// than in the file.
var envOverrides = []envOverride{
	{"GRAYLOGIC_DEVICE_ID", stringVar(func(c *Config) *string { return &c.Device.ID })},
	{"GRAYLOGIC_CAMERA_CONFIG", stringVar(func(c *Config) *string { return &c.Camera.ConfigPath })},
	{"GRAYLOGIC_CAMERA_DISPLAY", boolVar(func(c *Config) *bool { return &c.Camera.Display })},
	{"GRAYLOGIC_DATABASE_PATH", stringVar(func(c *Config) *string { return &c.Database.Path })},
	{"GRAYLOGIC_MQTT_ENABLED", boolVar(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"GRAYLOGIC_MQTT_HOST", stringVar(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"GRAYLOGIC_MQTT_PORT", intVar(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"GRAYLOGIC_MQTT_USERNAME", stringVar(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"GRAYLOGIC_MQTT_PASSWORD", stringVar(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"GRAYLOGIC_API_HOST", stringVar(func(c *Config) *string { return &c.API.Host })},
	{"GRAYLOGIC_API_PORT", intVar(func(c *Config) *int { return &c.API.Port })},
	{"GRAYLOGIC_INFLUXDB_TOKEN", stringVar(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"GRAYLOGIC_UPLINK_URL", stringVar(func(c *Config) *string { return &c.Uplink.URL })},
	{"GRAYLOGIC_UPLINK_TOKEN", stringVar(func(c *Config) *string { return &c.Uplink.AccessToken })},
	{"GRAYLOGIC_LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
}

// applyEnvOverrides applies every set variable and reports all malformed
// values together.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %w", errors.Join(errs...))
	}
	return nil
}

var (
	logLevels  = []string{"debug", "info", "warn", "warning", "error"}
	logFormats = []string{"json", "text"}
)

// Validate reports every problem at once. The error wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch {
	case c.Device.ID == "":
		fail("device.id is required")
	case strings.ContainsAny(c.Device.ID, "/+#"):
		fail("device.id must not contain MQTT wildcards or '/'")
	}

	if c.Camera.ConfigPath == "" {
		fail("camera.config_path is required")
	}
	if c.Camera.StopTimeout < 1 {
		fail("camera.stop_timeout must be at least 1 second")
	}
	if c.Camera.SnapshotInterval < 0 {
		fail("camera.snapshot_interval must not be negative")
	}

	if c.Database.Path == "" {
		fail("database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		fail("mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			fail("mqtt.broker.host is required when mqtt is enabled")
		}
		if !validPort(c.MQTT.Broker.Port) {
			fail("mqtt.broker.port must be between 1 and 65535")
		}
	}

	if c.API.Enabled && !validPort(c.API.Port) {
		fail("api.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		fail("websocket.path must start with '/'")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		fail("metrics.path must start with '/'")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		fail("influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Uplink.Enabled {
		switch {
		case c.Uplink.URL == "":
			fail("uplink.url is required when uplink is enabled (set GRAYLOGIC_UPLINK_URL)")
		case !strings.HasPrefix(c.Uplink.URL, "ws://") && !strings.HasPrefix(c.Uplink.URL, "wss://"):
			fail("uplink.url must use ws:// or wss://")
		}
		if r := c.Uplink.Reconnect; r.InitialDelay < 1 || r.MaxDelay < r.InitialDelay {
			fail("uplink.reconnect delays must satisfy 1 <= initial_delay <= max_delay")
		}
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		fail("logging.level %q is not one of %s", c.Logging.Level, strings.Join(logLevels, ", "))
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Logging.Format)) {
		fail("logging.format %q is not one of %s", c.Logging.Format, strings.Join(logFormats, ", "))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// GetReadTimeout returns the API read timeout.
func (c *Config) GetReadTimeout() time.Duration { return seconds(c.API.Timeouts.Read) }

// GetWriteTimeout returns the API write timeout.
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }

// GetIdleTimeout returns the API idle timeout.
func (c *Config) GetIdleTimeout() time.Duration { return seconds(c.API.Timeouts.Idle) }

// GetStopTimeout returns how long Stop waits for the capture loop.
func (c *Config) GetStopTimeout() time.Duration { return seconds(c.Camera.StopTimeout) }

// GetSnapshotInterval returns the periodic snapshot interval, or 0 when disabled.
func (c *Config) GetSnapshotInterval() time.Duration { return seconds(c.Camera.SnapshotInterval) }

// GetUplinkBackoff returns the uplink reconnect bounds.
func (c *Config) GetUplinkBackoff() (initial, maxDelay time.Duration) {
	return seconds(c.Uplink.Reconnect.InitialDelay), seconds(c.Uplink.Reconnect.MaxDelay)
}
