package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for executor operations.
var (
	glRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glcache_requests_total",
		Help: "Total logical requests by outcome",
	}, []string{"outcome"}) // "ok", "not_modified", "error"

	glAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glcache_attempts_total",
		Help: "Total transport attempts by status",
	}, []string{"status"})

	glRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glcache_request_duration_seconds",
		Help:    "Logical request duration in seconds, including retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	glErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glcache_errors_total",
		Help: "Total failed attempts by class",
	}, []string{"class"})

	glConditionalRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glcache_conditional_requests_total",
		Help: "Total attempts sent with If-None-Match",
	})

	glNotModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glcache_304_responses_total",
		Help: "Total 304 Not Modified responses",
	})

	glRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glcache_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	glRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glcache_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	glRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glcache_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)
