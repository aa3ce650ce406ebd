package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the alerts service.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	deliveriesTotal *prometheus.CounterVec
	alertsPublished *prometheus.CounterVec
	wsClients       prometheus.Gauge
	sseClients      prometheus.Gauge
	broadcastDrops  *prometheus.CounterVec
	rateLimited     prometheus.Counter
	refreshFailures *prometheus.CounterVec
	logWriteErrors  prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alerts",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "alerts",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alerts",
			Name:      "webhook_deliveries_total",
			Help:      "EventSub deliveries by message type and outcome",
		}, []string{"message_type", "outcome"}),
		alertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alerts",
			Name:      "published_total",
			Help:      "Canonical alerts published to the broadcaster",
		}, []string{"kind"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alerts",
			Name:      "ws_clients",
			Help:      "Current connected WebSocket clients",
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alerts",
			Name:      "sse_clients",
			Help:      "Current connected SSE clients",
		}),
		broadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alerts",
			Name:      "broadcast_drops_total",
			Help:      "Alerts dropped due to slow clients",
		}, []string{"transport"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alerts",
			Name:      "http_rate_limited_total",
			Help:      "HTTP requests rejected due to rate limiting",
		}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alerts",
			Name:      "credential_refresh_failures_total",
			Help:      "Failed credential renewals by tier",
		}, []string{"tier"}),
		logWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alerts",
			Name:      "alert_log_write_errors_total",
			Help:      "Alert log write errors reported",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.deliveriesTotal,
		m.alertsPublished,
		m.wsClients,
		m.sseClients,
		m.broadcastDrops,
		m.rateLimited,
		m.refreshFailures,
		m.logWriteErrors,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// ObserveDelivery counts one webhook delivery outcome.
func (m *Metrics) ObserveDelivery(messageType, outcome string) {
	if m == nil {
		return
	}
	if messageType == "" {
		messageType = "none"
	}
	m.deliveriesTotal.WithLabelValues(messageType, outcome).Inc()
}

// IncAlertsPublished counts one published alert.
func (m *Metrics) IncAlertsPublished(kind string) {
	if m == nil {
		return
	}
	m.alertsPublished.WithLabelValues(kind).Inc()
}

// IncWSClients adjusts the WebSocket client gauge by delta.
func (m *Metrics) IncWSClients(delta float64) {
	if m == nil {
		return
	}
	m.wsClients.Add(delta)
}

// IncSSEClients adjusts the SSE client gauge by delta.
func (m *Metrics) IncSSEClients(delta float64) {
	if m == nil {
		return
	}
	m.sseClients.Add(delta)
}

// IncBroadcastDrops increments the drop counter for a transport.
func (m *Metrics) IncBroadcastDrops(transport string) {
	if m == nil {
		return
	}
	m.broadcastDrops.WithLabelValues(transport).Inc()
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// IncRefreshFailures counts a failed renewal for a tier.
func (m *Metrics) IncRefreshFailures(tier string) {
	if m == nil {
		return
	}
	m.refreshFailures.WithLabelValues(tier).Inc()
}

// IncLogWriteErrors increments the alert log write error counter.
func (m *Metrics) IncLogWriteErrors() {
	if m == nil {
		return
	}
	m.logWriteErrors.Inc()
}
