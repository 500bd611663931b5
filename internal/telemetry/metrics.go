package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the session counters exported on /metrics. It satisfies
// radio.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	linesTotal      *prometheus.CounterVec // by line kind (M, R, S, H, V, malformed)
	statusTotal     *prometheus.CounterVec // by status category
	repliesTotal    *prometheus.CounterVec // by outcome (ok, error, unmatched)
	packetsTotal    *prometheus.CounterVec // by routed stream kind
	lostTotal       *prometheus.CounterVec // sequence gaps by stream kind
	droppedTotal    *prometheus.CounterVec // stale frames by stream kind
	objects         *prometheus.GaugeVec
	connectionState prometheus.Gauge
}

// NewMetrics creates the session metrics on a private registry together with
// the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "flexlink"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "lines_total",
			Help:      "Total number of inbound command-channel lines by kind",
		}, []string{"kind"}),

		statusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "status_total",
			Help:      "Total number of status lines by category",
		}, []string{"category"}),

		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "replies_total",
			Help:      "Total number of command replies by outcome",
		}, []string{"outcome"}),

		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "packets_total",
			Help:      "Total number of stream packets routed by kind",
		}, []string{"kind"}),

		lostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "lost_packets_total",
			Help:      "Total number of packets missing from a stream's sequence",
		}, []string{"kind"}),

		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_frames_total",
			Help:      "Total number of out-of-order or unroutable frames dropped",
		}, []string{"kind"}),

		objects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "objects",
			Help:      "Number of live objects by kind",
		}, []string{"kind"}),

		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connection_state",
			Help:      "Connection state (0=idle, 1=connecting, 2=connected, 3=stream bound, 4=active, 5=updating, 6=disconnected)",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.linesTotal,
		m.statusTotal,
		m.repliesTotal,
		m.packetsTotal,
		m.lostTotal,
		m.droppedTotal,
		m.objects,
		m.connectionState,
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordLine(kind string)        { m.linesTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) RecordStatus(category string)  { m.statusTotal.WithLabelValues(category).Inc() }
func (m *Metrics) RecordReply(outcome string)    { m.repliesTotal.WithLabelValues(outcome).Inc() }
func (m *Metrics) RecordPacket(kind string)      { m.packetsTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) RecordLoss(kind string)        { m.lostTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) RecordDrop(kind string)        { m.droppedTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) SetObjects(kind string, n int) { m.objects.WithLabelValues(kind).Set(float64(n)) }
func (m *Metrics) SetConnectionState(state int)  { m.connectionState.Set(float64(state)) }
