// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filial_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filial_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "endpoint"})

	TransfersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filial_transfers_created_total",
		Help: "Transfers requested",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filial_transitions_total",
		Help: "Status transitions applied, labeled by the status entered",
	}, []string{"status"})

	TransitionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filial_transition_rejections_total",
		Help: "Status transitions refused, labeled by reason",
	}, []string{"reason"})

	UploadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filial_upload_failures_total",
		Help: "Object uploads that failed, labeled by bucket",
	}, []string{"bucket"})

	BarcodeDecodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filial_barcode_decodes_total",
		Help: "Uploaded photos run through the barcode decoder, labeled by result",
	}, []string{"result"})

	CatalogSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filial_catalog_search_duration_seconds",
		Help:    "Latency of product catalog lookups",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
)

// ObserveRequest records one finished HTTP request. endpoint should be the
// matched route pattern, not the raw path, to keep label cardinality bounded.
func ObserveRequest(method, endpoint string, status int, d time.Duration) {
	if endpoint == "" {
		endpoint = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
