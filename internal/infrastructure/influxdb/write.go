package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by this package.
const (
	MeasurementEvents    = "camera_events"
	MeasurementSnapshots = "camera_snapshots"
	MeasurementCapture   = "camera_capture"
)

// WriteCameraEvent records one session event.
//
// The event type and camera index are tags; state and failure are fields so
// that high-cardinality error text never becomes a series key.
//
// Example:
//
//	client.WriteCameraEvent("started", 0, "active", false, time.Now())
func (c *Client) WriteCameraEvent(eventType string, cameraIndex int, state string, failed bool, ts time.Time) {
	c.WritePointWithTime(
		MeasurementEvents,
		map[string]string{
			"type":         eventType,
			"camera_index": strconv.Itoa(cameraIndex),
		},
		map[string]interface{}{
			"count":  1,
			"state":  state,
			"failed": failed,
		},
		ts,
	)
}

// WriteSnapshot records a snapshot attempt and the encoded size on success.
func (c *Client) WriteSnapshot(cameraIndex int, bytes int, ok bool, ts time.Time) {
	result := "ok"
	fields := map[string]interface{}{"count": 1}
	if ok {
		fields["bytes"] = bytes
	} else {
		result = "failed"
	}

	c.WritePointWithTime(
		MeasurementSnapshots,
		map[string]string{
			"camera_index": strconv.Itoa(cameraIndex),
			"result":       result,
		},
		fields,
		ts,
	)
}

// WriteCaptureStats records the frame counters of a finished capture run.
func (c *Client) WriteCaptureStats(cameraIndex int, framesRead, readFailures uint64, uptime time.Duration, ts time.Time) {
	c.WritePointWithTime(
		MeasurementCapture,
		map[string]string{
			"camera_index": strconv.Itoa(cameraIndex),
		},
		map[string]interface{}{
			"frames_read":    framesRead,
			"read_failures":  readFailures,
			"uptime_seconds": uptime.Seconds(),
		},
		ts,
	)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// It is a no-op when the client is not connected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	c.queued.Add(1)
}
