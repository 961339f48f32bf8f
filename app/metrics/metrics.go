// Package metrics registers the Prometheus collectors for HTTP traffic and
// for the metered audio flows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector so tests can use a private registry.
type Metrics struct {
	ServiceName string

	RequestCounter     *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	FlowInvocations    *prometheus.CounterVec
	MinutesCharged     *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
	QueueJobsProcessed *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default Prometheus registry.
func New(serviceName string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ServiceName: serviceName,
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "path", "status"},
		),
		FlowInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agilizap_flow_invocations_total",
				Help: "Audio flow invocations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		MinutesCharged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agilizap_minutes_charged_total",
				Help: "Usage minutes charged to accounts, by plan",
			},
			[]string{"plan"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agilizap_stripe_webhook_events_total",
				Help: "Stripe webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		QueueJobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agilizap_queue_jobs_total",
				Help: "Instance provisioning jobs by outcome",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(
		m.RequestCounter,
		m.RequestDuration,
		m.FlowInvocations,
		m.MinutesCharged,
		m.WebhookEvents,
		m.QueueJobsProcessed,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Middleware records request count and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.RequestCounter.WithLabelValues(m.ServiceName, c.Request.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(m.ServiceName, c.Request.Method, path, status).
			Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry this Metrics was registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFlow(operation, outcome string) {
	if m == nil {
		return
	}
	m.FlowInvocations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveMinute(plan string) {
	if m == nil {
		return
	}
	m.MinutesCharged.WithLabelValues(plan).Inc()
}

func (m *Metrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveJob(outcome string) {
	if m == nil {
		return
	}
	m.QueueJobsProcessed.WithLabelValues(outcome).Inc()
}
