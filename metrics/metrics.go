// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kremlib_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kremlib_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kremlib_mongo_query_duration_seconds",
			Help:    "Duration of MongoDB operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kremlib_mongo_query_errors_total",
			Help: "Total MongoDB operation errors",
		},
		[]string{"operation", "collection"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kremlib_cache_hits_total",
			Help: "Result cache hits",
		},
		[]string{"entity"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kremlib_cache_misses_total",
			Help: "Result cache misses",
		},
		[]string{"entity"},
	)

	BookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kremlib_book_deliveries_total",
			Help: "Ebook files streamed to clients",
		},
		[]string{"mode", "format"},
	)

	BookPreviews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kremlib_book_previews_total",
			Help: "Previews generated, by format and outcome",
		},
		[]string{"format", "outcome"}, // outcome: full, metadata_only
	)

	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kremlib_recommendations_total",
			Help: "Recommendation lists served, by path",
		},
		[]string{"path"}, // personalized, popular
	)

	UploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kremlib_upload_bytes_total",
			Help: "Bytes written to file storage by uploads",
		},
	)

	MailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kremlib_mails_sent_total",
			Help: "Send-to-device mails, by result",
		},
		[]string{"result"},
	)

	LoginFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kremlib_login_failures_total",
			Help: "Rejected login attempts",
		},
	)
)

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordDBQuery(operation, collection string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, collection).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, collection).Inc()
	}
}

func RecordCache(entity string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(entity).Inc()
		return
	}
	CacheMisses.WithLabelValues(entity).Inc()
}

func RecordPreview(format string, full bool) {
	outcome := "metadata_only"
	if full {
		outcome = "full"
	}
	BookPreviews.WithLabelValues(format, outcome).Inc()
}

func RecordMail(err error) {
	if err != nil {
		MailsSent.WithLabelValues("error").Inc()
		return
	}
	MailsSent.WithLabelValues("ok").Inc()
}
