// Package metrics registers the Prometheus collectors the resolver and its
// adapters report against, following the teacher's promauto var-block
// convention: one package-level collector per concern plus a thin
// Record*/Set*/Update* helper so call sites never touch label sets
// directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolver iteration metrics
	ResolverIterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_iterations_total",
			Help: "Total number of iteration driver cycles, by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	ResolverIterationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolver_iteration_duration_seconds",
			Help:    "Wall-clock duration of one iteration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	ResolverConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resolver_consecutive_failures",
			Help: "Current count of consecutive iteration failures",
		},
	)

	ResolverFatalAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_fatal_alerts_total",
			Help: "Total number of fatal liveness alerts raised by the iteration driver",
		},
	)

	// Poll/handler metrics
	ResolverMessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_messages_received_total",
			Help: "Total advisory messages received from the claim-expiry queue",
		},
	)

	ResolverMessagesFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_messages_failed_total",
			Help: "Total advisory messages whose handler attempt failed and was not acknowledged",
		},
	)

	ResolverClaimExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_claim_expired_total",
			Help: "Total runs transitioned to exception/claim-expired",
		},
	)

	ResolverRetryAppendedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_retry_appended_total",
			Help: "Total retry runs appended after a claim expiration",
		},
	)

	ResolverDataIntegrityErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_data_integrity_errors_total",
			Help: "Total data-integrity errors reported by the message handler",
		},
		[]string{"kind"}, // taken-until-mismatch, run-not-latest, unexpected-run-growth
	)

	// Queue metrics, kept from the teacher's queue layer
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskqueue_queue_depth",
			Help: "Current number of pending messages per stream",
		},
		[]string{"stream"},
	)

	ExceptionArchiveSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskqueue_exception_archive_size",
			Help: "Current number of entries in the exception archive",
		},
	)

	// HTTP metrics, kept for the trimmed observability API
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Redis metrics, kept from the teacher's adapters
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	RedisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"operation"},
	)

	// Claimant metrics (internal simulator, not a worker-facing surface)
	ClaimantActiveClaims = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimant_active_claims",
			Help: "Current number of runs held by the claim simulator",
		},
	)

	ClaimantVanishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claimant_vanished_total",
			Help: "Total runs the claim simulator abandoned without reclaiming or completing",
		},
	)
)

// RecordIteration records one iteration driver cycle.
func RecordIteration(success bool, durationSeconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ResolverIterationsTotal.WithLabelValues(outcome).Inc()
	ResolverIterationDuration.Observe(durationSeconds)
}

// SetConsecutiveFailures updates the live consecutive-failure gauge.
func SetConsecutiveFailures(count float64) {
	ResolverConsecutiveFailures.Set(count)
}

// RecordFatalAlert increments the fatal-alert counter.
func RecordFatalAlert() {
	ResolverFatalAlertsTotal.Inc()
}

// RecordBatch records one poll-loop batch's handler outcomes.
func RecordBatch(received, failed int) {
	ResolverMessagesReceivedTotal.Add(float64(received))
	ResolverMessagesFailedTotal.Add(float64(failed))
}

// RecordClaimExpired increments the claim-expired transition counter.
func RecordClaimExpired() {
	ResolverClaimExpiredTotal.Inc()
}

// RecordRetryAppended increments the retry-run-appended counter.
func RecordRetryAppended() {
	ResolverRetryAppendedTotal.Inc()
}

// RecordDataIntegrityError increments the data-integrity-error counter for kind.
func RecordDataIntegrityError(kind string) {
	ResolverDataIntegrityErrorsTotal.WithLabelValues(kind).Inc()
}

// UpdateQueueDepth updates the queue depth gauge for a named stream.
func UpdateQueueDepth(stream string, depth float64) {
	QueueDepth.WithLabelValues(stream).Set(depth)
}

// SetExceptionArchiveSize sets the exception archive size gauge.
func SetExceptionArchiveSize(size float64) {
	ExceptionArchiveSize.Set(size)
}

// RecordHTTPRequest records an HTTP request against the observability API.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRedisOperation records a Redis operation's duration.
func RecordRedisOperation(operation string, duration float64) {
	RedisOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRedisError records a Redis error for operation.
func RecordRedisError(operation string) {
	RedisErrors.WithLabelValues(operation).Inc()
}

// SetClaimantActiveClaims sets the claim simulator's active-claim gauge.
func SetClaimantActiveClaims(count float64) {
	ClaimantActiveClaims.Set(count)
}

// RecordClaimantVanished increments the claim simulator's vanished counter.
func RecordClaimantVanished() {
	ClaimantVanishedTotal.Inc()
}
