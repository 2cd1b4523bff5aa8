// Package icap implements the REQMOD+Preview exchange against an ICAP
// (RFC 3507) antivirus scanner: framing, the Preview/100-Continue/204
// dance, and parsing of the 204/100/4xx/size-limit cases. The wire
// format mirrors what go-icap/icap and cs3org/reva's icap.go read on the
// server and client sides respectively; ifad/clammit's ClamInterceptor
// supplied the "scan, then gate the HTTP response" control flow this
// client's caller (the orchestrator) follows.
package icap

// Verdict is the tagged outcome of a single REQMOD scan attempt.
type Verdict struct {
	// Kind distinguishes Clean, Blocked, and ProtocolError.
	Kind VerdictKind

	// Blocked-only fields.
	HTTPCode    int
	Message     string
	IsSizeLimit bool
	RawHeaders  []string

	// ProtocolError-only field.
	Detail string
}

// VerdictKind enumerates the three possible Verdict outcomes.
type VerdictKind int

const (
	Clean VerdictKind = iota
	Blocked
	ProtocolError
)

func (k VerdictKind) String() string {
	switch k {
	case Clean:
		return "clean"
	case Blocked:
		return "blocked"
	case ProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// sizeLimitMarker is the substring to scan the collected ICAP response
// headers for when deciding IsSizeLimit.
const sizeLimitMarker = "Heuristics.Limits.Exceeded.MaxFileSize"
