// Package orchestrator implements the linear phase machine that
// sequences an upload through buffering, MIME validation, the ICAP
// scan, and the backend forward. Phase sequencing, per-phase timeouts,
// and priority-ordered cleanup under error isolation are specific to
// this proxy; the circuit-breaker and resource-tracker pieces it
// drives come from the sibling breaker/ and resource/ packages.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avgate/avgate"
	"github.com/avgate/avgate/backend"
	"github.com/avgate/avgate/breaker"
	"github.com/avgate/avgate/buffer"
	"github.com/avgate/avgate/icap"
	"github.com/avgate/avgate/mimesniff"
	"github.com/avgate/avgate/resource"
)

// Orchestrator holds every dependency one request's phase machine
// needs: configuration, the two breakers, the ICAP and backend
// clients, and a logger. One Orchestrator is built at startup and
// shared across requests; all per-request state lives in a handle
// created by Handle.
type Orchestrator struct {
	Config         *avgate.Config
	Logger         *logrus.Logger
	Metrics        *Metrics
	IcapBreaker    *breaker.Breaker
	BackendBreaker *breaker.Breaker
	IcapClient     *icap.Client
	Forwarder      *backend.Forwarder
}

// Handle drives one request end to end, writing either the relayed
// backend response or a structured error response to w. It never
// panics out to the caller: any unexpected failure is converted into a
// 500 INTERNAL_ERROR response.
func (o *Orchestrator) Handle(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := avgate.RequestLogger(o.Logger, requestID, r.RemoteAddr)

	ec := newErrorContext(requestID)
	cleanup := &cleanupQueue{}
	tracker := resource.New()
	cleanup.register(CleanupTask{Name: "resource_tracker", Priority: 100, Run: func() error {
		errs := tracker.ReleaseAll()
		if len(errs) > 0 {
			return fmt.Errorf("%d resources failed to release: %v", len(errs), errs)
		}
		return nil
	}})

	headersSent := false
	defer func() {
		o.Metrics.observePhase(ec.phase, ec.phaseElapsed().Seconds())
		cleanupErrs := cleanup.runAll()
		o.logTerminal(log, ec, cleanupErrs)
	}()
	defer func() {
		if rec := recover(); rec != nil {
			pe := avgate.NewError(avgate.KindInternal, ec.phase, fmt.Sprintf("unexpected failure: %v", rec))
			o.writeError(w, log, pe, &headersSent)
			o.Metrics.observeOutcome(string(pe.Kind))
		}
	}()

	globalCtx, cancel := context.WithTimeout(r.Context(), defaultGlobalTimeout)
	defer cancel()

	buf, declaredMIME, filename, partHeaders, proxyErr := o.uploadInitAndStream(globalCtx, r, ec, tracker, cleanup)
	if proxyErr != nil {
		o.writeError(w, log, proxyErr, &headersSent)
		o.Metrics.observeOutcome(string(proxyErr.Kind))
		return
	}

	if proxyErr := o.uploadValidate(globalCtx, filename, ec); proxyErr != nil {
		o.writeError(w, log, proxyErr, &headersSent)
		o.Metrics.observeOutcome(string(proxyErr.Kind))
		return
	}

	detected, proxyErr := o.mimeValidate(globalCtx, buf, declaredMIME, filename, ec)
	if proxyErr != nil {
		o.writeError(w, log, proxyErr, &headersSent)
		o.Metrics.observeOutcome(string(proxyErr.Kind))
		return
	}

	if proxyErr := o.icapScan(globalCtx, buf, detected, filename, ec, log); proxyErr != nil {
		o.writeError(w, log, proxyErr, &headersSent)
		o.Metrics.observeOutcome(string(proxyErr.Kind))
		return
	}

	resp, proxyErr := o.backendForward(globalCtx, r, buf, partHeaders, ec)
	if proxyErr != nil {
		o.writeError(w, log, proxyErr, &headersSent)
		o.Metrics.observeOutcome(string(proxyErr.Kind))
		return
	}
	defer resp.Body.Close()

	o.relayResponse(w, resp, ec, &headersSent)
	o.Metrics.observeOutcome("success")
}

// withPhaseTimeout runs fn against a context.WithTimeout'd child of
// ctx, returning a KindTimeout error tagged with phase if the deadline
// elapses before fn returns. fn runs in its own goroutine since the
// blocking multipart/MIME reads it wraps don't accept a context
// directly, unlike the ICAP and backend clients' Scan/Forward.
func withPhaseTimeout(ctx context.Context, timeout time.Duration, phase string, fn func() error) *avgate.ProxyError {
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case <-phaseCtx.Done():
		return avgate.NewError(avgate.KindTimeout, phase, fmt.Sprintf("%s exceeded its %s timeout", phase, timeout))
	case err := <-done:
		if err != nil {
			if pe, ok := err.(*avgate.ProxyError); ok {
				return pe
			}
			return avgate.WrapError(avgate.KindUpload, phase, "phase operation failed", err)
		}
		return nil
	}
}

// uploadInitAndStream implements upload_init and upload_stream: it
// validates the request is a multipart upload, reads the single file
// part, and streams it into a fresh buffer.Buffer.
func (o *Orchestrator) uploadInitAndStream(ctx context.Context, r *http.Request, ec *errorContext, tracker *resource.Tracker, cleanup *cleanupQueue) (*buffer.Buffer, string, string, backend.PartHeaders, *avgate.ProxyError) {
	o.enterPhase(ec, PhaseUploadInit)

	scope := newPathScope(o.Config.AllowedUploadPaths())
	if !scope.allowed(r.URL.Path) {
		return nil, "", "", nil, avgate.NewError(avgate.KindUpload, PhaseUploadInit, "request path is not in the configured upload scope")
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, "", "", nil, avgate.NewError(avgate.KindUpload, PhaseUploadInit, "request is not a multipart/form-data upload")
	}

	// Tee the raw bytes the multipart reader consumes so the file
	// part's header block can be re-parsed in its original wire order
	// afterward — mime/multipart.Part.Header is a map and has already
	// lost that order by the time NextPart returns.
	var rawHead bytes.Buffer
	r.Body = io.NopCloser(io.TeeReader(r.Body, &rawHead))

	mpr, err := r.MultipartReader()
	if err != nil {
		return nil, "", "", nil, avgate.WrapError(avgate.KindUpload, PhaseUploadInit, "failed to open multipart reader", err)
	}

	var part *multipart.Part
	if proxyErr := withPhaseTimeout(ctx, timeoutUploadInit, PhaseUploadInit, func() error {
		p, err := mpr.NextPart()
		if err != nil {
			return avgate.WrapError(avgate.KindUpload, PhaseUploadInit, "failed to read file part", err)
		}
		part = p
		return nil
	}); proxyErr != nil {
		return nil, "", "", nil, proxyErr
	}
	if part.FormName() == "" {
		return nil, "", "", nil, avgate.NewError(avgate.KindUpload, PhaseUploadInit, "multipart part has no form field name")
	}

	filename := part.FileName()
	declaredMIME := part.Header.Get("Content-Type")
	if declaredMIME == "" {
		declaredMIME = "application/octet-stream"
	}
	partHeaders := capturedPartHeaders(rawHead.Bytes())

	buf := buffer.New(buffer.Config{
		MemoryThreshold:    buffer.DefaultMemoryThreshold,
		MaxFileSize:        buffer.DefaultMaxFileSize,
		OnHybridTransition: o.Metrics.observeBufferHybridTransition,
	})
	buf.SetMultipartContext(declaredMIME, filename)

	handle := tracker.Track(resource.KindBuffer, 0, buf.Clear)
	cleanup.register(CleanupTask{Name: "buffer", Priority: 95, Run: func() error {
		return tracker.Release(handle)
	}})

	o.enterPhase(ec, PhaseUploadStream)
	chunkSize := o.Config.UploadChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	readBuf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return nil, "", "", nil, avgate.NewError(avgate.KindTimeout, PhaseUploadStream, "global request timeout during upload stream")
		default:
		}

		n, readErr := part.Read(readBuf)
		if n > 0 {
			if appendErr := buf.Append(readBuf[:n]); appendErr != nil {
				return nil, "", "", nil, avgate.WrapError(avgate.KindMemory, PhaseUploadStream, "upload exceeds maximum file size", appendErr)
			}
			ec.bytesProcessed += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, "", "", nil, avgate.WrapError(avgate.KindUpload, PhaseUploadStream, "error reading upload body", readErr)
		}
	}

	if checksumReader, err := buf.Reader(0); err == nil {
		if sum, err := resource.Checksum(checksumReader); err == nil {
			ec.checksum = sum
		}
	}

	return buf, declaredMIME, filename, partHeaders, nil
}

func (o *Orchestrator) uploadValidate(ctx context.Context, filename string, ec *errorContext) *avgate.ProxyError {
	o.enterPhase(ec, PhaseUploadValidate)
	return withPhaseTimeout(ctx, timeoutUploadValidate, PhaseUploadValidate, func() error {
		if !mimesniff.ExtensionAllowed(filename, o.Config.AllowedExtensions()) {
			return avgate.NewError(avgate.KindExtension, PhaseUploadValidate, "file extension is not in the allowed list")
		}
		return nil
	})
}

func (o *Orchestrator) mimeValidate(ctx context.Context, buf *buffer.Buffer, declaredMIME, filename string, ec *errorContext) (string, *avgate.ProxyError) {
	o.enterPhase(ec, PhaseMimeValidate)

	var detectedMIME string
	proxyErr := withPhaseTimeout(ctx, timeoutMimeValidate, PhaseMimeValidate, func() error {
		preview, err := buf.Preview(1024)
		if err != nil {
			return avgate.WrapError(avgate.KindInternal, PhaseMimeValidate, "failed to read preview for MIME detection", err)
		}

		result := mimesniff.Sniff(preview, filename, true)
		buf.SetDetectedMIME(result.MIME, result.Method)
		detectedMIME = result.MIME

		if !o.Config.CheckMimeType {
			return nil
		}

		ok, _ := mimesniff.Validate(result.MIME, declaredMIME)
		if !ok {
			return avgate.NewError(avgate.KindMime, PhaseMimeValidate, fmt.Sprintf("detected MIME %q does not match declared %q", result.MIME, declaredMIME))
		}
		return nil
	})
	if proxyErr != nil {
		return "", proxyErr
	}
	return detectedMIME, nil
}

func (o *Orchestrator) icapScan(ctx context.Context, buf *buffer.Buffer, detectedMIME, filename string, ec *errorContext, log *logrus.Entry) *avgate.ProxyError {
	o.enterPhase(ec, PhaseIcapScan)

	if !o.IcapBreaker.Allow() {
		o.Metrics.observeBreakerRejected("icap")
		return avgate.NewError(avgate.KindCircuitOpen, PhaseIcapScan, "ICAP circuit breaker is open")
	}

	timeout := timeoutIcapScan
	if buf.TotalSize() > extendedSizeThreshold {
		timeout = timeoutIcapScanExt
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	verdict, err := o.IcapClient.Scan(scanCtx, buf, detectedMIME, filename)
	if err != nil {
		o.IcapBreaker.RecordFailure()
		return avgate.WrapError(avgate.KindIcapConnection, PhaseIcapScan, "ICAP scan failed", err)
	}

	switch verdict.Kind {
	case icap.Clean:
		o.IcapBreaker.RecordSuccess()
		return nil
	case icap.Blocked:
		o.IcapBreaker.RecordSuccess()
		if verdict.IsSizeLimit && o.Config.AllowBackendForwardOnSizeLimit() {
			log.WithField("phase", PhaseIcapScan).Warn("size-limit verdict allowed through by configuration")
			return nil
		}
		return avgate.NewError(avgate.KindIcapScan, PhaseIcapScan, fmt.Sprintf("upload blocked by ICAP scan: %s", verdict.Message))
	default: // ProtocolError
		o.IcapBreaker.RecordFailure()
		return avgate.NewError(avgate.KindIcapConnection, PhaseIcapScan, verdict.Detail)
	}
}

func (o *Orchestrator) backendForward(ctx context.Context, r *http.Request, buf *buffer.Buffer, partHeaders backend.PartHeaders, ec *errorContext) (*http.Response, *avgate.ProxyError) {
	o.enterPhase(ec, PhaseBackendForward)

	if !o.BackendBreaker.Allow() {
		o.Metrics.observeBreakerRejected("backend")
		return nil, avgate.NewError(avgate.KindCircuitOpen, PhaseBackendForward, "backend circuit breaker is open")
	}

	timeout := timeoutBackend
	if buf.TotalSize() > extendedSizeThreshold {
		timeout = timeoutBackendExt
	}
	fwdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc := backend.RequestContext{
		RequestURI:     r.URL.RequestURI(),
		InboundHeaders: r.Header,
		RemoteAddr:     r.RemoteAddr,
		ForwardedProto: schemeOf(r),
		ForwardedHost:  r.Host,
	}

	resp, err := o.Forwarder.Forward(fwdCtx, rc, partHeaders, buf)
	if err != nil {
		o.BackendBreaker.RecordFailure()
		return nil, avgate.WrapError(avgate.KindBackend, PhaseBackendForward, "backend forward failed", err)
	}
	o.BackendBreaker.RecordSuccess()
	return resp, nil
}

func (o *Orchestrator) relayResponse(w http.ResponseWriter, resp *http.Response, ec *errorContext, headersSent *bool) {
	o.enterPhase(ec, PhaseResponse)
	backend.RelayHeaders(w.Header(), resp)
	w.WriteHeader(resp.StatusCode)
	*headersSent = true
	n, _ := backend.RelayBody(w, resp)
	ec.bytesProcessed += n
}

func (o *Orchestrator) writeError(w http.ResponseWriter, log *logrus.Entry, pe *avgate.ProxyError, headersSent *bool) {
	if *headersSent {
		log.WithError(pe).Error("error occurred after response headers were already sent; cannot rewrite status")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Request-ID", log.Data["request_id"].(string))
	w.Header().Set("X-Error-Type", string(pe.Kind))
	w.WriteHeader(pe.HTTPStatus())
	fmt.Fprintln(w, pe.Message)
	*headersSent = true
	log.WithError(pe).WithField("phase", pe.Phase).Error("request failed")
}

// enterPhase records ec's elapsed time in the phase it's leaving
// against the phase_duration_seconds histogram, then switches ec to
// the new phase.
func (o *Orchestrator) enterPhase(ec *errorContext, phase string) {
	if ec.phase != "" {
		o.Metrics.observePhase(ec.phase, ec.phaseElapsed().Seconds())
	}
	ec.enterPhase(phase)
}

func (o *Orchestrator) logTerminal(log *logrus.Entry, ec *errorContext, cleanupErrs map[string]error) {
	fields := logrus.Fields{
		"phase":           ec.phase,
		"duration_ms":     ec.totalElapsed().Milliseconds(),
		"bytes_processed": ec.bytesProcessed,
		"operation_count": ec.opCount,
	}
	if ec.checksum != "" {
		fields["checksum"] = ec.checksum
	}
	entry := log.WithFields(fields)
	if len(cleanupErrs) > 0 {
		entry.WithField("cleanup_errors", cleanupErrs).Warn("request complete with cleanup errors")
		return
	}
	entry.Info("request complete")
}

// capturedPartHeaders re-parses the raw bytes read off the request
// body (everything up through the first part's header block, captured
// via a TeeReader ahead of r.MultipartReader) into ordered "Key:
// value" lines, preserving the order they arrived on the wire — needed
// because they are re-emitted into the backend request verbatim.
// Folded continuation lines (a following line starting with space or
// tab, RFC 2045 §4) are joined onto the header they continue.
func capturedPartHeaders(raw []byte) backend.PartHeaders {
	end := bytes.Index(raw, []byte("\r\n\r\n"))
	if end < 0 {
		end = bytes.Index(raw, []byte("\n\n"))
	}
	if end < 0 {
		return nil
	}

	rawLines := strings.Split(string(raw[:end]), "\n")
	if len(rawLines) == 0 {
		return nil
	}
	// rawLines[0] is the "--boundary" delimiter line, not a header.
	var lines backend.PartHeaders
	for _, line := range rawLines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] = lines[len(lines)-1] + " " + strings.TrimSpace(line)
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
