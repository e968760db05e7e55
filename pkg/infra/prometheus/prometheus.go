package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	// Latency buckets in milliseconds. Inference dominates the tail.
	latencyBuckets = []float64{
		5, 10, 25,
		50, 100, 250,
		500, 1000, 2500,
		5000, 10000, 30000,
	}

	RequestTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "modguard_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"method", "status"},
	)

	RequestLatency = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modguard_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: latencyBuckets,
		},
		[]string{"endpoint"},
	)

	CacheHits = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "modguard_cache_hits_total",
			Help: "Verdict cache hits",
		},
	)

	CacheMisses = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "modguard_cache_misses_total",
			Help: "Verdict cache misses",
		},
	)

	LimiterRejections = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "modguard_limiter_rejections_total",
			Help: "Requests rejected by the sliding-window rate limiter",
		},
		[]string{"endpoint"},
	)

	InferenceLatency = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modguard_inference_latency_ms",
			Help:    "Classifier call latency in milliseconds",
			Buckets: latencyBuckets,
		},
	)

	InferenceFailures = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "modguard_inference_failures_total",
			Help: "Failed classifier calls",
		},
	)

	FlaggedTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "modguard_flagged_total",
			Help: "Content items flagged, by category",
		},
		[]string{"category"},
	)
)

// Registry exposes the private registry for the metrics endpoint.
func Registry() *prometheus.Registry {
	return registry
}
