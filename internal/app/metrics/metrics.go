package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "approval_flow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approval_flow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "approval_flow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	applicationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approval_flow",
			Subsystem: "applications",
			Name:      "created_total",
			Help:      "Total number of applications created.",
		},
		[]string{"type"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approval_flow",
			Subsystem: "applications",
			Name:      "decisions_total",
			Help:      "Total number of recorded approval decisions.",
		},
		[]string{"kind"},
	)

	uploads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "approval_flow",
			Subsystem: "files",
			Name:      "uploads_total",
			Help:      "Total number of uploaded attachments.",
		},
	)

	quarantined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "approval_flow",
			Subsystem: "files",
			Name:      "quarantined_total",
			Help:      "Total number of orphaned attachments moved to trash.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		applicationsCreated,
		decisions,
		uploads,
		quarantined,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight marks a request as started.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight marks a request as finished.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveApplicationCreated counts a created application by its type.
func ObserveApplicationCreated(formType string) {
	if formType == "" {
		formType = "unspecified"
	}
	applicationsCreated.WithLabelValues(formType).Inc()
}

// ObserveDecision counts a recorded decision by kind.
func ObserveDecision(kind string) { decisions.WithLabelValues(kind).Inc() }

// ObserveUpload counts an uploaded attachment.
func ObserveUpload() { uploads.Inc() }

// ObserveQuarantined counts attachments moved to trash.
func ObserveQuarantined(n int) { quarantined.Add(float64(n)) }
