// Package metrics declares the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	PodsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webpods_pods_total",
			Help: "Total number of pods",
		},
	)

	StreamsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webpods_streams_total",
			Help: "Total number of streams",
		},
	)

	RecordsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webpods_records_appended_total",
			Help: "Total number of records appended by kind",
		},
		[]string{"kind"}, // inline, external, tombstone
	)

	RecordsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webpods_records_purged_total",
			Help: "Total number of records purged",
		},
	)

	// HTTP metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webpods_http_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webpods_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webpods_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webpods_cache_hits_total",
			Help: "Total number of cache hits by pool",
		},
		[]string{"pool"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webpods_cache_misses_total",
			Help: "Total number of cache misses by pool",
		},
		[]string{"pool"},
	)

	// Blob metrics
	BlobBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webpods_blob_bytes_written_total",
			Help: "Total bytes written to the blob store",
		},
	)

	BlobRedirectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webpods_blob_redirects_total",
			Help: "Total number of blob redirect responses",
		},
	)

	// Append path metrics
	AppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webpods_append_duration_seconds",
			Help:    "Time taken to append a record in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AppendRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webpods_append_retries_total",
			Help: "Total number of append transaction retries",
		},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webpods_rate_limited_total",
			Help: "Total number of requests rejected by rate limiting, by action",
		},
		[]string{"action"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PodsTotal)
	prometheus.MustRegister(StreamsTotal)
	prometheus.MustRegister(RecordsAppendedTotal)
	prometheus.MustRegister(RecordsPurgedTotal)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(RequestsInFlight)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(BlobBytesWritten)
	prometheus.MustRegister(BlobRedirectsTotal)
	prometheus.MustRegister(AppendDuration)
	prometheus.MustRegister(AppendRetriesTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures operation durations for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer creates a timer starting now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}
