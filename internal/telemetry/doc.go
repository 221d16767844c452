// Package telemetry turns camera session events and statistics into
// metrics.
//
// Two observers are provided:
//
//   - Metrics exposes Prometheus collectors. Frame counters are read from
//     Session.Stats at scrape time; snapshot and event counters are driven
//     by events.
//   - InfluxObserver writes camera_events and camera_snapshots points, and
//     a camera_capture point with frame counts each time a run stops.
//
// Both are registered with Session.AddObserver.
package telemetry
