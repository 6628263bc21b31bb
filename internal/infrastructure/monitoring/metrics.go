package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the extension host.
type Metrics struct {
	// Extension lifecycle metrics
	ExtensionsKnown  prometheus.Gauge
	ExtensionsActive prometheus.Gauge
	Activations      *prometheus.CounterVec
	Deactivations    prometheus.Counter

	// Protocol metrics
	Messages       *prometheus.CounterVec
	QueuedDepth    prometheus.Gauge
	CommandCalls   *prometheus.CounterVec
	RuntimeCrashes prometheus.Counter

	// Installer metrics
	Installs   *prometheus.CounterVec
	Uninstalls prometheus.Counter

	// HTTP surface metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector registered on the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector on a specific registry.
// Tests use this with a fresh registry per instance.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		ExtensionsKnown: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_extensions_known",
				Help: "Number of extensions in the registry",
			},
		),
		ExtensionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_extensions_active",
				Help: "Number of currently active extensions",
			},
		),
		Activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_activations_total",
				Help: "Total number of extension activations",
			},
			[]string{"status"},
		),
		Deactivations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "exthost_deactivations_total",
				Help: "Total number of extension deactivations",
			},
		),

		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_protocol_messages_total",
				Help: "Total number of protocol messages",
			},
			[]string{"direction", "type"},
		),
		QueuedDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_protocol_queue_depth",
				Help: "Messages queued while the runtime is not ready",
			},
		),
		CommandCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_command_calls_total",
				Help: "Total number of command executions",
			},
			[]string{"owner", "status"},
		),
		RuntimeCrashes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "exthost_runtime_crashes_total",
				Help: "Unexpected runtime process exits",
			},
		),

		Installs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_installs_total",
				Help: "Total number of package installs",
			},
			[]string{"status"},
		),
		Uninstalls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "exthost_uninstalls_total",
				Help: "Total number of package uninstalls",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_http_requests_total",
				Help: "Total number of control API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exthost_http_request_duration_seconds",
				Help:    "Control API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_ws_connections",
				Help: "Number of connected event observers",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_uptime_seconds",
				Help: "Host uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordMessage records a protocol message.
func (m *Metrics) RecordMessage(direction, msgType string) {
	m.Messages.WithLabelValues(direction, msgType).Inc()
}

// RecordActivation records an activation outcome.
func (m *Metrics) RecordActivation(status string) {
	m.Activations.WithLabelValues(status).Inc()
}

// RecordCommandCall records a command execution.
func (m *Metrics) RecordCommandCall(owner, status string) {
	m.CommandCalls.WithLabelValues(owner, status).Inc()
}

// RecordInstall records an install outcome.
func (m *Metrics) RecordInstall(status string) {
	m.Installs.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records a control API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
