package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingestion metrics
	IngestsTotal        *prometheus.CounterVec
	IngestDuration      *prometheus.HistogramVec
	IngestRowsTotal     *prometheus.CounterVec
	ImportsInFlight     prometheus.Gauge

	// Webhook metrics
	WebhookChangesTotal *prometheus.CounterVec
	TokensIssuedTotal   prometheus.Counter
	TokensRevokedTotal  prometheus.Counter

	// Provisioning metrics
	RoleSyncsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hqbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hqbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		IngestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hqbridge_ingests_total",
				Help: "Total number of data source ingestions",
			},
			[]string{"mode", "status"},
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hqbridge_ingest_duration_seconds",
				Help:    "Data source ingestion duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"mode"},
		),
		IngestRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hqbridge_ingest_rows_total",
				Help: "Total number of rows written by ingestions",
			},
			[]string{"mode"},
		),
		ImportsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hqbridge_imports_in_flight",
				Help: "Number of data source imports currently running",
			},
		),
		WebhookChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hqbridge_webhook_changes_total",
				Help: "Total number of dataset change requests received",
			},
			[]string{"action", "status"},
		),
		TokensIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hqbridge_tokens_issued_total",
				Help: "Total number of webhook access tokens issued",
			},
		),
		TokensRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hqbridge_tokens_revoked_total",
				Help: "Total number of webhook access tokens revoked",
			},
		),
		RoleSyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hqbridge_role_syncs_total",
				Help: "Total number of domain role synchronisations",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.IngestsTotal,
		m.IngestDuration,
		m.IngestRowsTotal,
		m.ImportsInFlight,
		m.WebhookChangesTotal,
		m.TokensIssuedTotal,
		m.TokensRevokedTotal,
		m.RoleSyncsTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
