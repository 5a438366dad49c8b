package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors published by splicecast.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsStopped  prometheus.Counter
	TargetsRunning   *prometheus.GaugeVec
	EventsIssued     *prometheus.CounterVec
	EventsApplied    *prometheus.CounterVec
	EventsFailed     *prometheus.CounterVec
	EncoderRestarts  *prometheus.CounterVec
	EncoderFailures  *prometheus.CounterVec
	WebhooksReceived *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "splicecast_sessions_active",
			Help: "Number of stream sessions currently registered and not terminal.",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "splicecast_sessions_started_total",
			Help: "Total stream sessions that reached RUNNING.",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "splicecast_sessions_stopped_total",
			Help: "Total stream sessions stopped.",
		}),
		TargetsRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "splicecast_targets_running",
			Help: "Running output targets by format.",
		}, []string{"format"}),
		EventsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splicecast_cue_events_issued_total",
			Help: "SCTE-35 cue events issued by type.",
		}, []string{"type"}),
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splicecast_cue_events_applied_total",
			Help: "Per-target cue applications that succeeded, by format.",
		}, []string{"format"}),
		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splicecast_cue_events_failed_total",
			Help: "Per-target cue applications that failed, by format.",
		}, []string{"format"}),
		EncoderRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splicecast_encoder_restarts_total",
			Help: "Encoder process restarts by format.",
		}, []string{"format"}),
		EncoderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splicecast_encoder_failures_total",
			Help: "Encoder processes marked FAILED after exhausting retries, by format.",
		}, []string{"format"}),
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splicecast_webhooks_received_total",
			Help: "Ingest-server webhook notifications received by kind.",
		}, []string{"kind"}),
	}
}

// Handler returns an http.Handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
