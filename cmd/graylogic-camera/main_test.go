package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/api"
	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/logging"
)

// writeTestConfig writes a service config that keeps every network
// integration disabled and all files under dir.
func writeTestConfig(t *testing.T, dir, dbPath string) string {
	t.Helper()

	content := `
device:
  id: test-cam

camera:
  config_path: "` + filepath.Join(dir, "camera_config.json") + `"
  stop_timeout: 2

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

api:
  enabled: false

metrics:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// execute runs the CLI with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/custom/path/config.yaml")
	if path := getConfigPath(); path != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q", path)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, usedDefaults, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if !usedDefaults {
		t.Error("usedDefaults = false for a missing file")
	}
	if cfg.Device.ID == "" || cfg.Camera.ConfigPath == "" {
		t.Errorf("defaults not applied: %+v", cfg.Device)
	}
}

func TestLoadConfig_InvalidFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  path: \"\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, usedDefaults, err := loadConfig(path); err == nil || usedDefaults {
		t.Errorf("loadConfig() = (usedDefaults %v, err %v), want validation error", usedDefaults, err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("camera: [not, a, mapping]\n"), 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, path); err == nil {
		t.Fatal("run() should fail with an unparsable config")
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "events.db")
	configPath := writeTestConfig(t, dir, dbPath)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, configPath) }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	for _, p := range []string{dbPath, filepath.Join(dir, "camera_config.json")} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir, filepath.Join(dir, "events.db"))

	if _, err := execute(t, "--config", configPath, "config", "set", "fps", "15"); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	if _, err := execute(t, "--config", configPath, "config", "set", "stream.codec", "mjpeg"); err != nil {
		t.Fatalf("config set error = %v", err)
	}

	out, err := execute(t, "--config", configPath, "config", "get", "fps")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "15" {
		t.Errorf("config get fps = %q, want 15", out)
	}

	out, err = execute(t, "--config", configPath, "config", "get")
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("config get output is not JSON: %v\n%s", err, out)
	}
	stream, _ := doc["stream"].(map[string]any)
	if stream["codec"] != "mjpeg" || doc["frame_width"] != float64(640) {
		t.Errorf("document = %v", doc)
	}

	if _, err := execute(t, "--config", configPath, "config", "get", "missing.key"); err == nil {
		t.Error("config get of a missing path should fail")
	}
	if _, err := execute(t, "--config", configPath, "config", "set", "fps.max", "1"); err == nil {
		t.Error("config set through a scalar should fail")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "graylogic-camera "+version) {
		t.Errorf("version output = %q", out)
	}
}

func TestDBAndEventsCommands(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir, filepath.Join(dir, "events.db"))

	out, err := execute(t, "--config", configPath, "events")
	if err != nil {
		t.Fatalf("events error = %v", err)
	}
	if !strings.Contains(out, "0 of 0 events") {
		t.Errorf("events output = %q", out)
	}

	out, err = execute(t, "--config", configPath, "db", "status")
	if err != nil {
		t.Fatalf("db status error = %v", err)
	}
	if !strings.Contains(out, "applied") || strings.Contains(out, "pending") {
		t.Errorf("db status output = %q, want only applied migrations", out)
	}

	out, err = execute(t, "--config", configPath, "db", "rollback", "--steps", "2")
	if err != nil {
		t.Fatalf("db rollback error = %v", err)
	}
	if !strings.Contains(out, "rolled back 2 migration(s)") {
		t.Errorf("db rollback output = %q", out)
	}
	out, err = execute(t, "--config", configPath, "db", "status")
	if err != nil || strings.Count(out, "pending") != 2 {
		t.Errorf("db status after rollback = %q, %v; want 2 pending", out, err)
	}
	if _, err := execute(t, "--config", configPath, "db", "rollback", "--steps", "0"); err == nil {
		t.Error("db rollback --steps 0 should fail")
	}

	if _, err := execute(t, "--config", configPath, "events", "--type", "exploded"); err == nil {
		t.Error("events with an unknown type should fail")
	}
}

func TestWriteSnapshot(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	snap := &camera.Snapshot{Envelope: camera.NewEnvelope(jpeg), JPEG: jpeg}

	var stdout bytes.Buffer
	if err := writeSnapshot(&stdout, "", snap); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout.String(), `{"type":"VL"`) {
		t.Errorf("stdout = %q, want envelope JSON", stdout.String())
	}

	dir := t.TempDir()
	jpgPath := filepath.Join(dir, "frame.JPG")
	if err := writeSnapshot(&stdout, jpgPath, snap); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(jpgPath); !bytes.Equal(got, jpeg) {
		t.Errorf("jpeg file = %x, want %x", got, jpeg)
	}

	jsonPath := filepath.Join(dir, "frame.json")
	if err := writeSnapshot(&stdout, jsonPath, snap); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(jsonPath); !bytes.HasPrefix(got, []byte(`{"type":"VL"`)) {
		t.Errorf("json file = %q", got)
	}
}

// Minimal capture doubles for captureOnce.
type stubFrame struct{}

func (stubFrame) Close() error { return nil }

type stubDevice struct{ mu sync.Mutex }

func (*stubDevice) Configure(camera.Params) error { return nil }
func (d *stubDevice) Read() (camera.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	time.Sleep(time.Millisecond)
	return stubFrame{}, nil
}
func (*stubDevice) Close() error { return nil }

type stubOpener struct{ err error }

func (o stubOpener) Open(int) (camera.Device, error) {
	if o.err != nil {
		return nil, o.err
	}
	return &stubDevice{}, nil
}

type stubEncoder struct{}

func (stubEncoder) EncodeJPEG(camera.Frame) ([]byte, error) {
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

func TestCaptureOnce(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Camera.ConfigPath = filepath.Join(dir, "camera_config.json")
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", &bytes.Buffer{})

	session, err := newSession(cfg, log, stubOpener{}, stubEncoder{})
	if err != nil {
		t.Fatal(err)
	}

	snap, err := captureOnce(context.Background(), session, 2*time.Second)
	if err != nil {
		t.Fatalf("captureOnce() error = %v", err)
	}
	if snap.Envelope.Type != "VL" || len(snap.JPEG) != 4 {
		t.Errorf("snapshot = %+v", snap)
	}
	if session.State() != camera.StateIdle {
		t.Errorf("State() after captureOnce = %q, want idle", session.State())
	}
}

func TestCaptureOnce_OpenFailure(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Camera.ConfigPath = filepath.Join(t.TempDir(), "camera_config.json")
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", &bytes.Buffer{})

	session, err := newSession(cfg, log, stubOpener{err: os.ErrNotExist}, stubEncoder{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := captureOnce(context.Background(), session, time.Second); err == nil {
		t.Error("captureOnce() should fail when the device cannot be opened")
	}
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := healthCheck(ctx, db, nil, nil, nil); err != nil {
		t.Errorf("healthCheck() with only the database error = %v", err)
	}

	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Camera.ConfigPath = filepath.Join(t.TempDir(), "camera_config.json")
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", &bytes.Buffer{})
	session, err := newSession(cfg, log, stubOpener{}, stubEncoder{})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := api.New(api.Deps{Config: cfg.API, Logger: log, Camera: session})
	if err != nil {
		t.Fatal(err)
	}

	// Created but never started.
	err = healthCheck(ctx, db, nil, nil, srv)
	if err == nil || !strings.HasPrefix(err.Error(), "api:") {
		t.Errorf("healthCheck() with unstarted API error = %v, want api failure", err)
	}
}
