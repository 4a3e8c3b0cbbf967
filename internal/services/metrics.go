package services

import "github.com/prometheus/client_golang/prometheus"

// Domain metrics. Labels are bounded: formats and source types are fixed
// sets, and outcomes are the four cache/limit states below.
var (
	responsesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endpoint_responses_generated_total",
			Help: "Responses rendered from source data, by output format.",
		},
		[]string{"format"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endpoint_cache_lookups_total",
			Help: "Response cache lookups by result (hit or miss).",
		},
		[]string{"result"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "endpoint_rate_limited_total",
			Help: "Requests rejected by per-endpoint rate limits.",
		},
	)

	sourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endpoint_source_fetch_failures_total",
			Help: "Data source fetches that failed and were skipped, by source type.",
		},
		[]string{"type"},
	)

	generationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "endpoint_generation_duration_seconds",
			Help:    "Time spent fetching, transforming and rendering a response.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format"},
	)
)

func init() {
	prometheus.MustRegister(responsesGenerated, cacheLookups, rateLimited, sourceFailures, generationLatency)
}
