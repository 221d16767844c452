package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

const namespace = "graylogic_camera"

// snapshotBuckets covers a QVGA thumbnail up to a 1080p frame.
var snapshotBuckets = prometheus.ExponentialBuckets(8<<10, 2, 8)

// StatsSource supplies point-in-time session statistics.
type StatsSource interface {
	Stats() camera.Stats
}

// Metrics holds the Prometheus collectors for one camera session.
type Metrics struct {
	registry *prometheus.Registry

	snapshots     *prometheus.CounterVec
	snapshotBytes prometheus.Histogram
	events        *prometheus.CounterVec
}

// NewMetrics registers camera collectors on a fresh registry, together
// with the Go runtime and process collectors.
func NewMetrics(src StatsSource) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_read_total",
		Help:      "Frames read from the capture device since start-up.",
	}, func() float64 { return float64(src.Stats().TotalFrames) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_failures_total",
		Help:      "Failed frame reads since start-up.",
	}, func() float64 { return float64(src.Stats().ReadFailures) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active",
		Help:      "1 while the capture loop is active, 0 otherwise.",
	}, func() float64 {
		if src.Stats().State == camera.StateActive {
			return 1
		}
		return 0
	})

	m := &Metrics{
		registry: reg,
		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot attempts by result.",
		}, []string{"result"}),
		snapshotBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes",
			Help:      "Size of encoded JPEG snapshots.",
			Buckets:   snapshotBuckets,
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Session events by type.",
		}, []string{"type"}),
	}

	// Pre-create series so dashboards see zeros before the first event.
	m.snapshots.WithLabelValues("ok")
	m.snapshots.WithLabelValues("failed")
	for _, t := range camera.AllEventTypes {
		m.events.WithLabelValues(string(t))
	}

	return m
}

// OnEvent implements camera.Observer.
func (m *Metrics) OnEvent(e camera.Event) {
	m.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case camera.EventSnapshot:
		m.snapshots.WithLabelValues("ok").Inc()
		if e.Snapshot != nil {
			m.snapshotBytes.Observe(float64(len(e.Snapshot.JPEG)))
		}
	case camera.EventSnapshotFailed:
		m.snapshots.WithLabelValues("failed").Inc()
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
