// Package telemetry is the single sink the resolver reports through: a
// structured logger, an error reporter, and an alert/fatal path, backed by
// the teacher's existing zerolog logger and Prometheus metrics packages.
package telemetry

import (
	"sync/atomic"

	"github.com/maumercado/claim-resolver/internal/logger"
	"github.com/maumercado/claim-resolver/internal/metrics"
)

// Severity classifies a reported error for downstream filtering.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Telemetry is the structured logger + error reporter + alert sink the
// message handler and iteration driver depend on.
type Telemetry interface {
	PollRecorded(received, failed int, resolver string)
	TaskPending(taskID string, runID int)
	TaskException(taskID string, runID int)
	ReportError(err error, severity Severity, fields map[string]interface{})
	Alert(msg string, fields map[string]interface{})
	Counts() Counts
}

// ZerologTelemetry implements Telemetry over the package-level zerolog
// logger, mirroring each call with a Prometheus counter the way the
// teacher's metrics.IncrementDLQAdded is paired with a DLQ.Add log line.
// It also tallies TaskPending/TaskException calls itself, since the
// observability API's /admin/resolver/stats endpoint surfaces
// "retry-appended" and "claim-expired" counts that Prometheus alone
// wouldn't let an in-process handler read back synchronously.
type ZerologTelemetry struct {
	pendingCount   int64
	exceptionCount int64
}

// New returns the default Telemetry implementation.
func New() *ZerologTelemetry {
	return &ZerologTelemetry{}
}

// Counts is a point-in-time snapshot of task-pending/task-exception
// notifications recorded so far.
type Counts struct {
	TaskPending   int64
	TaskException int64
}

// Counts returns the current retry-appended/claim-expired tallies.
func (t *ZerologTelemetry) Counts() Counts {
	return Counts{
		TaskPending:   atomic.LoadInt64(&t.pendingCount),
		TaskException: atomic.LoadInt64(&t.exceptionCount),
	}
}

func (t *ZerologTelemetry) PollRecorded(received, failed int, resolver string) {
	metrics.RecordBatch(received, failed)
	logger.Info().
		Int("messages", received).
		Int("failed", failed).
		Str("resolver", resolver).
		Msg("azureQueuePoll")
}

func (t *ZerologTelemetry) TaskPending(taskID string, runID int) {
	atomic.AddInt64(&t.pendingCount, 1)
	metrics.RecordClaimExpired()
	metrics.RecordRetryAppended()
	logger.WithRun(taskID, runID).Info().Msg("taskPending")
}

func (t *ZerologTelemetry) TaskException(taskID string, runID int) {
	atomic.AddInt64(&t.exceptionCount, 1)
	metrics.RecordClaimExpired()
	logger.WithRun(taskID, runID).Info().Msg("taskException")
}

func (t *ZerologTelemetry) ReportError(err error, severity Severity, fields map[string]interface{}) {
	if kind, ok := fields["kind"].(string); ok {
		metrics.RecordDataIntegrityError(kind)
	}
	event := logger.Error()
	if severity == SeverityWarning {
		event = logger.Warn()
	}
	event = event.Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg("reportError")
}

func (ZerologTelemetry) Alert(msg string, fields map[string]interface{}) {
	metrics.RecordFatalAlert()
	event := logger.Error()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg("ALERT: " + msg)
}
