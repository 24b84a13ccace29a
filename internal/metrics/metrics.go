// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	StoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemedesk_store_operations_total",
		Help: "Record store calls by operation and result",
	}, []string{"op", "result"})

	Refetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemedesk_cache_refetches_total",
		Help: "Collection refetches by outcome (applied, stale, failed)",
	}, []string{"outcome"})

	CacheRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "schemedesk_cache_records",
		Help: "Records held by the view cache after the last replacement",
	})

	InferenceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemedesk_inference_calls_total",
		Help: "Inference calls by operation and result",
	}, []string{"op", "result"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schemedesk_inference_duration_seconds",
		Help:    "Latency of inference calls",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"op"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemedesk_http_requests_total",
		Help: "HTTP requests by method and status",
	}, []string{"method", "status"})
)

// Result maps an error onto the result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
