// Package influxdb provides InfluxDB connectivity for camera telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writing, and health monitoring.
//
// # Measurements
//
//   - camera_events: one point per session event (tags: type, camera_index)
//   - camera_snapshots: one point per snapshot attempt (tags: camera_index, result)
//   - camera_capture: frame counters written when a capture run ends
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"device_id": cfg.Device.ID})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteSnapshot(0, 48213, true, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
