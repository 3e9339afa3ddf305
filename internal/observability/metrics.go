package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveAgentSessions prometheus.Gauge
	StreamSubscribers   prometheus.Gauge
	JobEvents           *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
	TurnFailures        *prometheus.CounterVec
	CloneDuration       prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveAgentSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_agent_sessions",
			Help:      "Number of live external agent sessions.",
		}),
		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Number of attached event stream subscribers.",
		}),
		JobEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle events by type.",
		}, []string{"event"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_published_total",
			Help:      "Stream events published by type.",
		}, []string{"type"}),
		TurnDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of agent turns by phase.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"phase"}),
		TurnFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_failures_total",
			Help:      "Failed agent turns by phase.",
		}, []string{"phase"}),
		CloneDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clone_duration_seconds",
			Help:      "Repository clone duration.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
	}
}

func (m *Metrics) ObserveTurn(phase string, d time.Duration) {
	m.TurnDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
