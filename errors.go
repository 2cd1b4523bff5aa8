// Package avgate implements an upload proxy that streams a
// multipart/form-data file through MIME sniffing and an ICAP antivirus
// scan before forwarding it to a backend. This root package holds the
// pieces every other package depends on: configuration, the error
// taxonomy, and logging setup.
package avgate

import (
	"errors"
	"fmt"
)

// ErrorKind is the proxy's error taxonomy. Each kind carries a fixed
// HTTP status and a stable name used as the X-Error-Type response
// header.
type ErrorKind string

const (
	KindUpload          ErrorKind = "UPLOAD_ERROR"
	KindValidation      ErrorKind = "VALIDATION_ERROR"
	KindMime            ErrorKind = "MIME_ERROR"
	KindExtension       ErrorKind = "EXTENSION_ERROR"
	KindTimeout         ErrorKind = "TIMEOUT_ERROR"
	KindMemory          ErrorKind = "MEMORY_ERROR"
	KindIcapScan        ErrorKind = "ICAP_SCAN_ERROR"
	KindIcapConnection  ErrorKind = "ICAP_CONNECTION_ERROR"
	KindBackend         ErrorKind = "BACKEND_ERROR"
	KindCircuitOpen     ErrorKind = "CIRCUIT_OPEN"
	KindInternal        ErrorKind = "INTERNAL_ERROR"
)

// HTTPStatus maps an ErrorKind to its fixed response code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindUpload, KindValidation, KindMime, KindExtension:
		return 400
	case KindTimeout:
		return 408
	case KindMemory:
		return 413
	case KindIcapScan:
		return 403
	case KindIcapConnection, KindBackend:
		return 502
	case KindCircuitOpen:
		return 503
	default:
		return 500
	}
}

// ProxyError is the single error type carried across phase boundaries.
// It generalizes filevalidator's ValidationError to the full taxonomy:
// a Kind (for the HTTP mapping and the X-Error-Type header), a
// human-readable Message, the Phase the error surfaced in, and an
// optional wrapped cause for errors.Is/As chains.
type ProxyError struct {
	Kind    ErrorKind
	Message string
	Phase   string
	Cause   error
}

func (e *ProxyError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s (phase=%s): %s", e.Kind, e.Phase, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// HTTPStatus is a convenience forwarding to e.Kind.HTTPStatus().
func (e *ProxyError) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// NewError builds a ProxyError for the given kind and phase.
func NewError(kind ErrorKind, phase, message string) *ProxyError {
	return &ProxyError{Kind: kind, Phase: phase, Message: message}
}

// WrapError builds a ProxyError that chains an underlying cause, so
// callers can still errors.As/errors.Is through to driver-level errors
// (e.g. a raw net.Error from a dial timeout).
func WrapError(kind ErrorKind, phase, message string, cause error) *ProxyError {
	return &ProxyError{Kind: kind, Phase: phase, Message: message, Cause: cause}
}

// AsProxyError extracts a *ProxyError from err, following wrapped
// chains, or reports ok=false if none is present.
func AsProxyError(err error) (pe *ProxyError, ok bool) {
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the ErrorKind of err if it is (or wraps) a
// *ProxyError, or KindInternal otherwise — used by the HTTP layer so an
// unrecognized error still produces a well-formed 500 response instead
// of panicking on a type assertion.
func KindOf(err error) ErrorKind {
	if pe, ok := AsProxyError(err); ok {
		return pe.Kind
	}
	return KindInternal
}
