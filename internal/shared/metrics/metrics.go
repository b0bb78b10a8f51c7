// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Realtime metrics
	RealtimeSessions      prometheus.Gauge
	RealtimePublished     *prometheus.CounterVec
	RealtimeDropped       *prometheus.CounterVec
	RealtimeRelayReceived prometheus.Counter

	// Grant metrics
	LinkRedemptions    *prometheus.CounterVec
	InvitationOutcomes *prometheus.CounterVec

	// Notification metrics
	NotificationsCreated *prometheus.CounterVec
	EmailOutcomes        *prometheus.CounterVec
}

// New creates a Metrics instance registered on reg. A nil reg uses the
// default Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "taskhub"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		RealtimeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "sessions",
				Help:      "Number of attached realtime sessions",
			},
		),
		RealtimePublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "published_total",
				Help:      "Envelopes published, by room kind",
			},
			[]string{"room_kind"},
		),
		RealtimeDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "dropped_total",
				Help:      "Envelopes dropped, by reason",
			},
			[]string{"reason"},
		),
		RealtimeRelayReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "relay_received_total",
				Help:      "Envelopes received from peer instances",
			},
		),
		LinkRedemptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grants",
				Name:      "link_redemptions_total",
				Help:      "Share link redemption attempts, by outcome",
			},
			[]string{"outcome"},
		),
		InvitationOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grants",
				Name:      "invitation_outcomes_total",
				Help:      "Invitation transitions, by outcome",
			},
			[]string{"outcome"},
		),
		NotificationsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "created_total",
				Help:      "Notifications created, by type",
			},
			[]string{"type"},
		),
		EmailOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "email_total",
				Help:      "Email side-channel outcomes",
			},
			[]string{"outcome"},
		),
	}
}

// NewNop returns metrics registered on a private registry, for tests.
func NewNop() *Metrics {
	return New("test", prometheus.NewRegistry())
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLinkRedemption records a redemption outcome.
func (m *Metrics) RecordLinkRedemption(outcome string) {
	m.LinkRedemptions.WithLabelValues(outcome).Inc()
}

// RecordInvitation records an invitation transition.
func (m *Metrics) RecordInvitation(outcome string) {
	m.InvitationOutcomes.WithLabelValues(outcome).Inc()
}

// RecordNotification records a created notification.
func (m *Metrics) RecordNotification(notificationType string) {
	m.NotificationsCreated.WithLabelValues(notificationType).Inc()
}

// RecordEmail records an email side-channel outcome.
func (m *Metrics) RecordEmail(outcome string) {
	m.EmailOutcomes.WithLabelValues(outcome).Inc()
}

// statusClass converts an HTTP status code to its class label.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
