package scorer

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Classification metrics
	classifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentimatrix_classify_requests_total",
			Help: "Total number of sentiment classification calls",
		},
		[]string{"status"},
	)

	classifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentimatrix_classify_duration_seconds",
			Help:    "Duration of sentiment classification calls in seconds, permit wait included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	replyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentimatrix_reply_requests_total",
			Help: "Total number of reply generation calls",
		},
		[]string{"status"},
	)

	replyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentimatrix_reply_duration_seconds",
			Help:    "Duration of reply generation calls in seconds, permit wait included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Batch metrics
	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentimatrix_batch_size",
			Help:    "Size of scoring batches",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
		},
	)

	itemsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentimatrix_items_scored_total",
			Help: "Total number of items scored by origin",
		},
		[]string{"origin"},
	)

	itemsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentimatrix_items_failed_total",
			Help: "Total number of batch items that could not be scored",
		},
	)

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentimatrix_cache_lookups_total",
			Help: "Result cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, miss, error
	)

	cacheWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentimatrix_cache_write_errors_total",
			Help: "Result cache writes that failed and were ignored",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentimatrix_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"error_type"},
	)

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentimatrix_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentimatrix_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"name"},
	)

	// Retry metrics
	retryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentimatrix_retry_total",
			Help: "Total number of retries by reason",
		},
		[]string{"reason"},
	)

	// Credential metrics
	credentialUses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentimatrix_credential_uses_total",
			Help: "API calls issued per credential slot",
		},
		[]string{"slot"},
	)

	// Score distribution
	scoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentimatrix_score_distribution",
			Help:    "Distribution of fresh scores (1-100)",
			Buckets: []float64{10, 20, 25, 30, 40, 50, 60, 70, 75, 80, 90, 100},
		},
	)

	// Concurrency metrics
	permitsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentimatrix_permits_in_flight",
			Help: "Number of API calls currently holding a concurrency permit",
		},
	)
)

// MetricsRecorder provides methods to record metrics.
// A nil or disabled recorder drops everything.
type MetricsRecorder struct {
	enabled bool
}

// NewMetricsRecorder creates a new metrics recorder
func NewMetricsRecorder(enabled bool) *MetricsRecorder {
	return &MetricsRecorder{enabled: enabled}
}

func (m *MetricsRecorder) on() bool {
	return m != nil && m.enabled
}

// RecordClassify records one classification call
func (m *MetricsRecorder) RecordClassify(status string, seconds float64) {
	if !m.on() {
		return
	}
	classifyTotal.WithLabelValues(status).Inc()
	classifyDuration.WithLabelValues(status).Observe(seconds)
}

// RecordReply records one reply generation call
func (m *MetricsRecorder) RecordReply(status string, seconds float64) {
	if !m.on() {
		return
	}
	replyTotal.WithLabelValues(status).Inc()
	replyDuration.WithLabelValues(status).Observe(seconds)
}

// RecordBatchSize records the size of a batch
func (m *MetricsRecorder) RecordBatchSize(size int) {
	if !m.on() {
		return
	}
	batchSize.Observe(float64(size))
}

// RecordItemsScored records scored items by origin
func (m *MetricsRecorder) RecordItemsScored(origin Origin, count int) {
	if !m.on() {
		return
	}
	itemsScored.WithLabelValues(string(origin)).Add(float64(count))
}

// RecordItemsFailed records batch items without a result
func (m *MetricsRecorder) RecordItemsFailed(count int) {
	if !m.on() {
		return
	}
	itemsFailed.Add(float64(count))
}

// RecordCacheLookup records a lookup outcome: hit, miss or error
func (m *MetricsRecorder) RecordCacheLookup(outcome string) {
	if !m.on() {
		return
	}
	cacheLookups.WithLabelValues(outcome).Inc()
}

// RecordCacheWriteError records an ignored cache write failure
func (m *MetricsRecorder) RecordCacheWriteError() {
	if !m.on() {
		return
	}
	cacheWriteErrors.Inc()
}

// RecordError records an error
func (m *MetricsRecorder) RecordError(errorType string) {
	if !m.on() {
		return
	}
	errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCircuitBreakerState records circuit breaker state
func (m *MetricsRecorder) RecordCircuitBreakerState(name string, state int) {
	if !m.on() {
		return
	}
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *MetricsRecorder) RecordCircuitBreakerTrip(name string) {
	if !m.on() {
		return
	}
	circuitBreakerTrips.WithLabelValues(name).Inc()
}

// RecordRetry records a retry
func (m *MetricsRecorder) RecordRetry(reason string) {
	if !m.on() {
		return
	}
	retryTotal.WithLabelValues(reason).Inc()
}

// RecordCredentialUse records a call made with the credential at slot
func (m *MetricsRecorder) RecordCredentialUse(slot int) {
	if !m.on() {
		return
	}
	credentialUses.WithLabelValues(strconv.Itoa(slot)).Inc()
}

// RecordScore records a score
func (m *MetricsRecorder) RecordScore(score int) {
	if !m.on() {
		return
	}
	scoreDistribution.Observe(float64(score))
}

// RecordPermitsInFlight sets the number of held permits
func (m *MetricsRecorder) RecordPermitsInFlight(n int64) {
	if !m.on() {
		return
	}
	permitsInFlight.Set(float64(n))
}

// GetMetricsHandler returns an HTTP handler for Prometheus metrics
func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}
