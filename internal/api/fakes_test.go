package api

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/eventlog"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-camera/migrations"
)

// fakeCamera is a scripted Camera backed by a real ConfigStore.
type fakeCamera struct {
	mu         sync.Mutex
	state      camera.State
	startErr   error
	stopErr    error
	captureErr error
	jpeg       []byte
	release    chan struct{} // when set, Capture blocks until it is closed
	store      *camera.ConfigStore

	starts   atomic.Int32
	captures atomic.Int32
}

func newFakeCamera(t *testing.T) *fakeCamera {
	t.Helper()
	return &fakeCamera{
		state: camera.StateIdle,
		jpeg:  []byte{0xFF, 0xD8, 0xFF, 0xD9},
		store: camera.OpenConfigStore(filepath.Join(t.TempDir(), "camera_config.json"), nil),
	}
}

func (c *fakeCamera) Start(context.Context) error {
	c.starts.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.state = camera.StateOpening
	return nil
}

func (c *fakeCamera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopErr != nil {
		return c.stopErr
	}
	c.state = camera.StateIdle
	return nil
}

func (c *fakeCamera) Capture() (*camera.Snapshot, error) {
	c.captures.Add(1)
	if c.release != nil {
		<-c.release
	}
	if c.captureErr != nil {
		return nil, c.captureErr
	}
	return &camera.Snapshot{Envelope: camera.NewEnvelope(c.jpeg), JPEG: c.jpeg}, nil
}

func (c *fakeCamera) Stats() camera.Stats {
	return camera.Stats{State: c.State(), Settings: c.store.Settings()}
}

func (c *fakeCamera) State() camera.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeCamera) UpdateConfig(path string, value any) error {
	return c.store.Set(path, value)
}

func (c *fakeCamera) Config() *camera.ConfigStore {
	return c.store
}

// fakeConn is a ConnectionChecker with a fixed answer.
type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func testDeps(cam Camera) Deps {
	return Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  testLogger(),
		Camera:  cam,
		Version: "test",
	}
}

// testServer creates a Server around a fake camera with no event log.
func testServer(t *testing.T) (*Server, *fakeCamera) {
	t.Helper()

	cam := newFakeCamera(t)
	srv, err := New(testDeps(cam))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, cam
}

// setupEventRepo opens an in-memory database with all migrations applied.
func setupEventRepo(t *testing.T) *eventlog.SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return eventlog.NewSQLiteRepository(db.DB)
}
