package dev

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracer is resolved from the global provider, which is a no-op unless the
// embedding program installs one.
var tracer trace.Tracer = otel.Tracer("github.com/lightning-dev/lightning/internal/dev")

// Metrics holds the Prometheus collectors for the dev server. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	clients       prometheus.Gauge
	broadcasts    *prometheus.CounterVec
	sendFailures  prometheus.Counter
	upgradeErrors prometheus.Counter
	requests      *prometheus.CounterVec
	events        *prometheus.CounterVec
	flushes       prometheus.Counter
	flushed       prometheus.Counter
}

// NewMetrics registers the dev server collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lightning",
			Name:      "connected_clients",
			Help:      "Number of browsers connected to the reload channel",
		}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightning",
			Name:      "reload_broadcasts_total",
			Help:      "Reload messages broadcast, by message type",
		}, []string{"type"}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning",
			Name:      "send_failures_total",
			Help:      "Reload messages that could not be delivered to a client",
		}),
		upgradeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning",
			Name:      "upgrade_failures_total",
			Help:      "WebSocket upgrade attempts that failed",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightning",
			Name:      "http_requests_total",
			Help:      "Static file requests, by status code",
		}, []string{"code"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightning",
			Name:      "fs_events_total",
			Help:      "Filesystem events seen by the change aggregator, by result",
		}, []string{"result"}),
		flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning",
			Name:      "flushes_total",
			Help:      "Debounce windows that ended in a reload decision",
		}),
		flushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lightning",
			Name:      "flushed_changes_total",
			Help:      "Accepted changes carried by those flushes",
		}),
	}
}

func (m *Metrics) setClients(n int) {
	if m != nil {
		m.clients.Set(float64(n))
	}
}

func (m *Metrics) broadcast(t ReloadMessageType, failed int) {
	if m != nil {
		m.broadcasts.WithLabelValues(string(t)).Inc()
		m.sendFailures.Add(float64(failed))
	}
}

func (m *Metrics) upgradeFailed() {
	if m != nil {
		m.upgradeErrors.Inc()
	}
}

func (m *Metrics) request(status int) {
	if m != nil {
		m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func (m *Metrics) event(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.events.WithLabelValues("accepted").Inc()
	} else {
		m.events.WithLabelValues("ignored").Inc()
	}
}

func (m *Metrics) flush(batchSize int) {
	if m != nil {
		m.flushes.Inc()
		m.flushed.Add(float64(batchSize))
	}
}
