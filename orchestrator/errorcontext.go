package orchestrator

import "time"

// Phase names, as surfaced in phase_duration_seconds and terminal logs.
const (
	PhaseUploadInit     = "upload_init"
	PhaseUploadStream   = "upload_stream"
	PhaseUploadValidate = "upload_validate"
	PhaseMimeValidate   = "mime_validate"
	PhaseIcapScan       = "icap_scan"
	PhaseBackendForward = "backend_forward"
	PhaseResponse       = "response"
)

// Default and extended (>100 MiB payload) per-phase timeouts.
const (
	extendedSizeThreshold = 100 * 1024 * 1024

	timeoutUploadInit     = 5 * time.Second
	timeoutUploadValidate = 1 * time.Second
	timeoutMimeValidate   = 3 * time.Second
	timeoutIcapScan       = 60 * time.Second
	timeoutIcapScanExt    = 300 * time.Second
	timeoutBackend        = 60 * time.Second
	timeoutBackendExt     = 300 * time.Second

	defaultGlobalTimeout = 60 * time.Second
)

// errorContext accumulates the bookkeeping needed for the terminal log
// line: current phase, start time, and counters.
type errorContext struct {
	requestID      string
	phase          string
	phaseStartedAt time.Time
	requestStarted time.Time
	bytesProcessed int64
	opCount        int
	checksum       string
}

func newErrorContext(requestID string) *errorContext {
	now := time.Now()
	return &errorContext{requestID: requestID, requestStarted: now, phaseStartedAt: now}
}

func (e *errorContext) enterPhase(phase string) {
	e.phase = phase
	e.phaseStartedAt = time.Now()
	e.opCount++
}

func (e *errorContext) phaseElapsed() time.Duration {
	return time.Since(e.phaseStartedAt)
}

func (e *errorContext) totalElapsed() time.Duration {
	return time.Since(e.requestStarted)
}
