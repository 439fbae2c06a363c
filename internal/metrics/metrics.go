package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/franzego/notifyhub/pkg/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

// Metrics owns its registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	notificationsCreated *prometheus.CounterVec
	deliveryAttempts     *prometheus.CounterVec
	deliveryLatency      *prometheus.HistogramVec
	queueJobs            *prometheus.GaugeVec
	breakerState         *prometheus.GaugeVec
	eventsConsumed       *prometheus.CounterVec
	httpRequests         *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		notificationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_notifications_created_total",
			Help: "Notification records created, by channel and initial status.",
		}, []string{"channel", "status"}),
		deliveryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_delivery_attempts_total",
			Help: "Provider send attempts, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		deliveryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notifyhub_delivery_latency_seconds",
			Help:    "Duration of a single provider send attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		queueJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notifyhub_queue_jobs",
			Help: "Delivery jobs by state at the last poll.",
		}, []string{"state"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notifyhub_circuit_breaker_state",
			Help: "0 closed, 1 half-open, 2 open.",
		}, []string{"breaker"}),
		eventsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_events_consumed_total",
			Help: "Domain events consumed, by transport, type and outcome.",
		}, []string{"transport", "type", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"method", "route", "code"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) NotificationCreated(channel, status string) {
	if m == nil {
		return
	}
	m.notificationsCreated.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) DeliveryAttempt(channel string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.deliveryAttempts.WithLabelValues(channel, outcome).Inc()
	m.deliveryLatency.WithLabelValues(channel).Observe(took.Seconds())
}

func (m *Metrics) QueueDepth(state string, n int64) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(state).Set(float64(n))
}

func (m *Metrics) EventConsumed(transport, eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(transport, eventType, outcome).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// BreakerListener exports circuit breaker transitions as a gauge.
func (m *Metrics) BreakerListener() circuitbreaker.StateListener {
	return func(name string, _, to gobreaker.State) {
		if m == nil {
			return
		}
		m.breakerState.WithLabelValues(name).Set(float64(to))
	}
}
