package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/poller"
)

// Metrics exposes dashboard counters on /metrics. A nil *Metrics is a no-op.
type Metrics struct {
	registry      *prometheus.Registry
	fetches       *prometheus.CounterVec
	reconnects    prometheus.Counter
	deviceActions *prometheus.CounterVec
	commands      *prometheus.CounterVec
	wsClients     prometheus.Gauge
}

var _ poller.Observer = (*Metrics)(nil)

// NewMetrics registers the dashboard collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envdash_sensor_fetches_total",
			Help: "Sensor fetches by result (ok, degraded, error).",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "envdash_sensor_reconnects_total",
			Help: "Times the poller entered the reconnect countdown.",
		}),
		deviceActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envdash_device_actions_total",
			Help: "Device probes and wake requests by outcome.",
		}, []string{"kind", "outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envdash_commands_total",
			Help: "Client commands by action and status.",
		}, []string{"action", "status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "envdash_websocket_clients",
			Help: "Connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.fetches,
		m.reconnects,
		m.deviceActions,
		m.commands,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FetchCompleted counts one poll result
func (m *Metrics) FetchCompleted(err error, valid bool) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.fetches.WithLabelValues("error").Inc()
	case !valid:
		m.fetches.WithLabelValues("degraded").Inc()
	default:
		m.fetches.WithLabelValues("ok").Inc()
	}
}

// ReconnectStarted counts entries into the reconnect countdown
func (m *Metrics) ReconnectStarted() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Record counts a device probe or wake outcome
func (m *Metrics) Record(event models.DeviceEvent) {
	if m == nil {
		return
	}
	m.deviceActions.WithLabelValues(string(event.Kind), event.Outcome).Inc()
}

// CommandHandled counts a client command
func (m *Metrics) CommandHandled(action string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		_, status = errorStatus(err)
	}
	if status == "unknown_action" {
		// keep client-supplied strings out of label values
		action = "unknown"
	}
	m.commands.WithLabelValues(action, status).Inc()
}

func (m *Metrics) clientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) clientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}
