package telemetry

import (
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

// PointWriter is the subset of the InfluxDB client used here.
// *influxdb.Client satisfies it.
type PointWriter interface {
	WriteCameraEvent(eventType string, cameraIndex int, state string, failed bool, ts time.Time)
	WriteSnapshot(cameraIndex int, bytes int, ok bool, ts time.Time)
	WriteCaptureStats(cameraIndex int, framesRead, readFailures uint64, uptime time.Duration, ts time.Time)
}

// InfluxObserver writes session events as time-series points.
// Writes are batched by the client and never block the caller.
type InfluxObserver struct {
	writer PointWriter
	stats  StatsSource
}

// NewInfluxObserver creates an observer writing to w. stats is sampled
// when a run stops.
func NewInfluxObserver(w PointWriter, stats StatsSource) *InfluxObserver {
	return &InfluxObserver{writer: w, stats: stats}
}

// OnEvent implements camera.Observer.
func (o *InfluxObserver) OnEvent(e camera.Event) {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	o.writer.WriteCameraEvent(string(e.Type), e.CameraIndex, string(e.State), e.Err != "", ts)

	switch e.Type {
	case camera.EventSnapshot:
		size := 0
		if e.Snapshot != nil {
			size = len(e.Snapshot.JPEG)
		}
		o.writer.WriteSnapshot(e.CameraIndex, size, true, ts)
	case camera.EventSnapshotFailed:
		o.writer.WriteSnapshot(e.CameraIndex, 0, false, ts)
	case camera.EventStopped:
		st := o.stats.Stats()
		o.writer.WriteCaptureStats(e.CameraIndex, st.FramesRead, st.ReadFailures, uptimeOf(e), ts)
	}
}

// uptimeOf reads the run duration carried by a stopped event.
func uptimeOf(e camera.Event) time.Duration {
	raw, ok := e.Detail["uptime"].(string)
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
