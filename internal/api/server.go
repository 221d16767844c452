// Package api provides the HTTP REST API and WebSocket server for the camera
// service.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/eventlog"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Camera is the session surface the API drives.
type Camera interface {
	Start(ctx context.Context) error
	Stop() error
	Capture() (*camera.Snapshot, error)
	Stats() camera.Stats
	State() camera.State
	UpdateConfig(path string, value any) error
	Config() *camera.ConfigStore
}

// ConnectionChecker reports link status for the health endpoint.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger
	Camera  Camera

	Events         eventlog.Repository // optional: /events answers 503 without it
	MetricsHandler http.Handler        // optional: mounted at Metrics.Path when enabled
	MQTT           ConnectionChecker   // optional
	Uplink         ConnectionChecker   // optional
	Version        string
}

// Server is the HTTP API server for the camera service.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	metricsCfg     config.MetricsConfig
	logger         *logging.Logger
	camera         Camera
	events         eventlog.Repository
	metricsHandler http.Handler
	mqtt           ConnectionChecker
	uplink         ConnectionChecker
	version        string
	startTime      time.Time

	// snapshots coalesces concurrent capture requests onto one device read.
	snapshots singleflight.Group

	// runCtx bounds camera loops started over HTTP. Request contexts end
	// with the response, so they cannot be used.
	runCtx context.Context

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub is
// created here so the server can be registered as a camera observer before
// Start.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Camera == nil {
		return nil, fmt.Errorf("camera is required")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		metricsCfg:     deps.Metrics,
		logger:         deps.Logger,
		camera:         deps.Camera,
		events:         deps.Events,
		metricsHandler: deps.MetricsHandler,
		mqtt:           deps.MQTT,
		uplink:         deps.Uplink,
		version:        deps.Version,
		startTime:      time.Now(),
		runCtx:         context.Background(),
	}
	s.hub = NewHub(deps.WS, deps.Logger, s)
	return s, nil
}

// OnEvent implements camera.Observer by relaying session events to
// WebSocket subscribers.
func (s *Server) OnEvent(e camera.Event) {
	s.hub.Broadcast(ChannelEvent, e)

	if e.Type.ChangesState() || e.Type == camera.EventConfigUpdated {
		s.hub.Broadcast(ChannelState, s.camera.Stats())
	}
	if e.Type == camera.EventSnapshot && e.Snapshot != nil {
		s.hub.Broadcast(ChannelSnapshot, e.Snapshot.Envelope)
	}
}

// currentState implements hubBackend.
func (s *Server) currentState() camera.Stats {
	return s.camera.Stats()
}

// sharedCapture implements hubBackend. Concurrent callers share one device
// read.
func (s *Server) sharedCapture() (*camera.Snapshot, error) {
	v, err, _ := s.snapshots.Do(snapshotKey, func() (any, error) {
		return s.camera.Capture()
	})
	if err != nil {
		return nil, err
	}
	snap, ok := v.(*camera.Snapshot)
	if !ok || snap == nil {
		return nil, errors.New("capture returned no snapshot")
	}
	return snap, nil
}

// Handler returns the routed HTTP handler. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. ctx also bounds capture loops started through the API.
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
