package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and the followup poller.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	followupsSentTotal   prometheus.Counter
	followupsFailedTotal *prometheus.CounterVec
	retryScheduledTotal  prometheus.Counter
	queuePollDuration    prometheus.Histogram
	repliesLinkedTotal   *prometheus.CounterVec
	escalationsTotal     *prometheus.CounterVec
	workerInflight       prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "careline",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "careline",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		followupsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "careline",
				Name:      "followups_sent_total",
				Help:      "Total number of followup messages delivered successfully.",
			},
		),
		followupsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "careline",
				Name:      "followups_failed_total",
				Help:      "Total number of followup jobs that ended in failed state.",
			},
			[]string{"reason"},
		),
		retryScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "careline",
				Name:      "retry_scheduled_total",
				Help:      "Total number of followup jobs rescheduled for retry.",
			},
		),
		queuePollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "careline",
				Name:      "queue_poll_duration_seconds",
				Help:      "Duration of one followup queue poll cycle in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		repliesLinkedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "careline",
				Name:      "replies_linked_total",
				Help:      "Total number of inbound replies linked to reminders by response type.",
			},
			[]string{"response_type"},
		),
		escalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "careline",
				Name:      "escalations_total",
				Help:      "Total number of escalation events handed to the volunteer sink.",
			},
			[]string{"reason"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "careline",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight followup send operations.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.followupsSentTotal,
		m.followupsFailedTotal,
		m.retryScheduledTotal,
		m.queuePollDuration,
		m.repliesLinkedTotal,
		m.escalationsTotal,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncFollowupSent() {
	if m == nil {
		return
	}
	m.followupsSentTotal.Inc()
}

func (m *Metrics) IncFollowupFailed(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.followupsFailedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduledTotal.Inc()
}

func (m *Metrics) ObserveQueuePollDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.queuePollDuration.Observe(seconds)
}

func (m *Metrics) IncReplyLinked(responseType string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(responseType))
	if label == "" {
		label = "unknown"
	}
	m.repliesLinkedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncEscalation(reason string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(reason))
	if label == "" {
		label = "unknown"
	}
	m.escalationsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}
