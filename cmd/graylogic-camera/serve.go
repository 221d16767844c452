package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nerrad567/gray-logic-camera/internal/api"
	"github.com/nerrad567/gray-logic-camera/internal/bridge"
	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/camera/gocvdevice"
	"github.com/nerrad567/gray-logic-camera/internal/eventlog"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-camera/internal/telemetry"
	"github.com/nerrad567/gray-logic-camera/internal/uplink"
	"github.com/nerrad567/gray-logic-camera/migrations"
)

// run is the service logic, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Service config file; missing means built-in defaults
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Camera",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, usedDefaults, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if usedDefaults {
		log.Warn("config file not found, using defaults", "path", configPath)
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version).With("device_id", cfg.Device.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open event log database
	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")
	events := eventlog.NewSQLiteRepository(db.DB)

	// Capture session
	session, err := newSession(cfg, log, gocvdevice.Opener{}, gocvdevice.Encoder{})
	if err != nil {
		return fmt.Errorf("creating camera session: %w", err)
	}
	// Releases the device on every return path; a no-op once the session
	// has been stopped below.
	defer session.Stop() //nolint:errcheck // logged by the main stop below
	session.AddObserver(eventlog.NewRecorder(events, log.Component("eventlog")))

	// Prometheus metrics (served by the API)
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metrics := telemetry.NewMetrics(session)
		session.AddObserver(metrics)
		metricsHandler = metrics.Handler()
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, map[string]string{"device_id": cfg.Device.ID})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			st := influxClient.Stats()
			log.Info("closing InfluxDB connection", "points_queued", st.Queued, "write_failures", st.Failed)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		session.AddObserver(telemetry.NewInfluxObserver(influxClient, session))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker and start the camera bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Device.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			st := mqttClient.Stats()
			log.Info("disconnecting from MQTT",
				"published", st.Published,
				"publish_failed", st.PublishFailed,
				"received", st.Received,
				"handler_errors", st.HandlerErrors,
				"reconnects", st.Reconnects,
			)
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		camBridge, bridgeErr := bridge.New(bridge.Options{
			DeviceID:         cfg.Device.ID,
			MQTT:             mqttClient,
			Camera:           session,
			SnapshotInterval: cfg.GetSnapshotInterval(),
			QoS:              mqttClient.QoS(),
			Logger:           log.Component("bridge"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating camera bridge: %w", bridgeErr)
		}
		session.AddObserver(camBridge)
		if startErr := camBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting camera bridge: %w", startErr)
		}
		mqttClient.SetOnConnect(camBridge.Resync)
		defer func() {
			log.Info("stopping camera bridge", "dropped", camBridge.Dropped())
			camBridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Upstream WebSocket (optional)
	var uplinkClient *uplink.Client
	if cfg.Uplink.Enabled {
		uplinkClient, err = uplink.New(uplink.FromConfig(cfg.Uplink, cfg.Device.ID), log.Component("uplink"))
		if err != nil {
			return fmt.Errorf("creating uplink: %w", err)
		}
		session.AddObserver(uplinkClient)
		if startErr := uplinkClient.Start(ctx); startErr != nil {
			return fmt.Errorf("starting uplink: %w", startErr)
		}
		defer func() {
			log.Info("closing uplink")
			if closeErr := uplinkClient.Close(); closeErr != nil {
				log.Error("error closing uplink", "error", closeErr)
			}
		}()
	}

	// HTTP API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:         cfg.API,
			WS:             cfg.WebSocket,
			Metrics:        cfg.Metrics,
			Logger:         log.Component("api"),
			Camera:         session,
			Events:         events,
			MetricsHandler: metricsHandler,
			Version:        version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		if uplinkClient != nil {
			deps.Uplink = uplinkClient
		}

		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		session.AddObserver(apiServer)
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else if cfg.Metrics.Enabled {
		log.Warn("metrics are served by the API, which is disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Registered last so the session stops before its observers go away.
	defer func() {
		log.Info("stopping camera session")
		if stopErr := session.Stop(); stopErr != nil {
			log.Error("camera session did not stop cleanly", "error", stopErr)
		}
	}()

	if cfg.Camera.AutoStart {
		if startErr := session.Start(ctx); startErr != nil {
			log.Error("camera auto-start failed", "error", startErr)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// session, API, uplink, bridge, MQTT, InfluxDB, database.

	log.Info("Gray Logic Camera stopped")
	return nil
}

// newSession builds the capture session from the service config.
func newSession(cfg *config.Config, log *logging.Logger, opener camera.Opener, encoder camera.Encoder) (*camera.Session, error) {
	opts := camera.Options{
		Store:       camera.OpenConfigStore(cfg.Camera.ConfigPath, log.Component("camera_config")),
		Opener:      opener,
		Encoder:     encoder,
		StopTimeout: cfg.GetStopTimeout(),
		Logger:      log.Component("camera"),
	}
	if cfg.Camera.Display {
		opts.Display = gocvdevice.NewWindow(cfg.Camera.WindowName)
	}
	return camera.NewSession(opts)
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: HTTP API to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}
