package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	messagesSent  *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	readMarks     prometheus.Counter
	subscriptions prometheus.Gauge
	busEvents     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_messaging",
			Name:      "messages_sent_total",
			Help:      "Messages appended, by sender role.",
		}, []string{"role"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_messaging",
			Name:      "attachment_uploads_total",
			Help:      "Attachment uploads, by outcome.",
		}, []string{"outcome"}),
		readMarks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_messaging",
			Name:      "read_marks_total",
			Help:      "Read flags flipped from false to true.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "order_messaging",
			Name:      "active_subscriptions",
			Help:      "Open conversation subscriptions on this instance.",
		}),
		busEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_messaging",
			Name:      "bus_events_total",
			Help:      "Cross-instance change events, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(
		m.messagesSent, m.uploads, m.readMarks, m.subscriptions, m.busEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageSent(role string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(role).Inc()
}

func (m *Metrics) Upload(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReadMarked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.readMarks.Add(float64(n))
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

func (m *Metrics) BusEvent(direction string) {
	if m == nil {
		return
	}
	m.busEvents.WithLabelValues(direction).Inc()
}
