// Package metrics exposes the Prometheus collectors of the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resume_matcher"

var (
	decodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decodes_total",
			Help:      "Profile extraction streams by outcome.",
		},
		[]string{"framing", "result"},
	)

	matches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Matching requests by outcome.",
		},
		[]string{"result"},
	)

	matchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Duration of matching requests, embeddings and store query included.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	embedCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache lookups by result.",
		},
		[]string{"result"},
	)

	httpDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.9:  0.01,
				0.99: 0.001,
			},
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
)

// ObserveDecode counts a finished extraction stream.
func ObserveDecode(framing, result string) {
	decodes.WithLabelValues(framing, result).Inc()
}

// ObserveMatch counts a matching request and records its duration.
func ObserveMatch(result string, elapsed time.Duration) {
	matches.WithLabelValues(result).Inc()
	matchDuration.Observe(elapsed.Seconds())
}

// ObserveCache counts an embedding cache lookup: hit, miss or error.
func ObserveCache(result string) {
	embedCache.WithLabelValues(result).Inc()
}

// Middleware records duration and count of every HTTP request.
func Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(ctx.Writer.Status())

		httpDuration.WithLabelValues(ctx.Request.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(ctx.Request.Method, path, status).Inc()
	}
}
