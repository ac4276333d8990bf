package metrics

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Stream counters
	FramesReceived      atomic.Uint64
	FramesMalformed     atomic.Uint64
	FramesDropped       atomic.Uint64
	StreamErrors        atomic.Uint64
	UpstreamErrors      atomic.Uint64
	ReconnectsScheduled atomic.Uint64

	// Engine counters
	VisibilityTransitions atomic.Uint64
	StatesPublished       atomic.Uint64
	AssetLoadFailures     atomic.Uint64

	// Render feed client tracking
	ActiveRenderClients atomic.Uint64
	TotalRenderClients  atomic.Uint64

	// Stream connection (0 = down, 1 = up)
	StreamConnected atomic.Uint64

	// FPS gauges stored as float bits
	trackerFPS atomic.Uint64
	receiveFPS atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Register Prometheus gauges
	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Stream metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_frames_received_total",
			Help: "Total landmark frames received from the tracking stream",
		},
		func() float64 { return float64(m.FramesReceived.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_frames_malformed_total",
			Help: "Total landmark payloads skipped because they could not be parsed",
		},
		func() float64 { return float64(m.FramesMalformed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_frames_dropped_total",
			Help: "Total frames dropped because the engine inbox was full",
		},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_stream_errors_total",
			Help: "Total transport errors on the tracking stream",
		},
		func() float64 { return float64(m.StreamErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_upstream_errors_total",
			Help: "Total producer fault frames reported by the tracker",
		},
		func() float64 { return float64(m.UpstreamErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_reconnects_scheduled_total",
			Help: "Total reconnect attempts scheduled for the tracking stream",
		},
		func() float64 { return float64(m.ReconnectsScheduled.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_stream_connected",
			Help: "Tracking stream connection (0=down, 1=up)",
		},
		func() float64 { return float64(m.StreamConnected.Load()) },
	))

	// Engine metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_visibility_transitions_total",
			Help: "Total overlay visibility changes",
		},
		func() float64 { return float64(m.VisibilityTransitions.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_render_states_published_total",
			Help: "Total render states published to the feed",
		},
		func() float64 { return float64(m.StatesPublished.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_asset_load_failures_total",
			Help: "Total jewelry asset loads reported failed by renderers",
		},
		func() float64 { return float64(m.AssetLoadFailures.Load()) },
	))

	// Client metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_active_render_clients",
			Help: "Number of renderers currently subscribed to the feed",
		},
		func() float64 { return float64(m.ActiveRenderClients.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_total_render_clients",
			Help: "Total renderers that have connected to the feed",
		},
		func() float64 { return float64(m.TotalRenderClients.Load()) },
	))

	// FPS metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_tracker_fps",
			Help: "Frame rate reported by the tracking producer",
		},
		func() float64 { return m.TrackerFPS() },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "overlay_receive_fps",
			Help: "Frame rate measured on the receiving side",
		},
		func() float64 { return m.ReceiveFPS() },
	))
}

// SetStreamConnected records whether the tracking stream is currently up
func (m *Metrics) SetStreamConnected(connected bool) {
	if connected {
		m.StreamConnected.Store(1)
	} else {
		m.StreamConnected.Store(0)
	}
}

// SetTrackerFPS stores the producer-reported frame rate
func (m *Metrics) SetTrackerFPS(fps float64) {
	m.trackerFPS.Store(math.Float64bits(fps))
}

// TrackerFPS returns the last producer-reported frame rate
func (m *Metrics) TrackerFPS() float64 {
	return math.Float64frombits(m.trackerFPS.Load())
}

// SetReceiveFPS stores the locally measured frame rate
func (m *Metrics) SetReceiveFPS(fps float64) {
	m.receiveFPS.Store(math.Float64bits(fps))
}

// ReceiveFPS returns the last locally measured frame rate
func (m *Metrics) ReceiveFPS() float64 {
	return math.Float64frombits(m.receiveFPS.Load())
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
