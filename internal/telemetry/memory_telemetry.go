package telemetry

import "sync"

// ReportedError is one ReportError call recorded by MemoryTelemetry.
type ReportedError struct {
	Err      error
	Severity Severity
	Fields   map[string]interface{}
}

// MemoryTelemetry is an in-process Telemetry for resolver unit tests,
// recording every call for assertion instead of touching zerolog/metrics.
type MemoryTelemetry struct {
	mu             sync.Mutex
	Polls          int
	MessagesRecv   int
	MessagesFailed int
	PendingCalls   int
	ExceptionCalls int
	Errors         []ReportedError
	Alerts         []string
}

// NewMemoryTelemetry returns an empty MemoryTelemetry.
func NewMemoryTelemetry() *MemoryTelemetry {
	return &MemoryTelemetry{}
}

func (m *MemoryTelemetry) PollRecorded(received, failed int, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Polls++
	m.MessagesRecv += received
	m.MessagesFailed += failed
}

func (m *MemoryTelemetry) TaskPending(_ string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PendingCalls++
}

func (m *MemoryTelemetry) TaskException(_ string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExceptionCalls++
}

func (m *MemoryTelemetry) ReportError(err error, severity Severity, fields map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, ReportedError{Err: err, Severity: severity, Fields: fields})
}

func (m *MemoryTelemetry) Alert(msg string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, msg)
}

// ErrorCount returns how many ReportError calls have been recorded.
func (m *MemoryTelemetry) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors)
}

// Counts returns the current retry-appended/claim-expired tallies.
func (m *MemoryTelemetry) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counts{
		TaskPending:   int64(m.PendingCalls),
		TaskException: int64(m.ExceptionCalls),
	}
}
