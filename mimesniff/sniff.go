package mimesniff

import (
	"net/http"
	"strings"
)

// Method names returned alongside a detected MIME, for logs and for the
// IcapVerdict/ErrorContext audit trail.
const (
	MethodExternal  = "external"
	MethodText      = "text_heuristic"
	MethodMagic     = "magic"
	MethodExtension = "extension"
	MethodFallback  = "fallback"
)

// Result is the outcome of Sniff: a non-null MIME, the detection method
// that produced it, and a short human-readable detail.
type Result struct {
	MIME   string
	Method string
	Detail string
}

// Sniff implements the detection order:
//  1. external detector (if allowExternal and len(previewBytes) >= 32)
//  2. text-content heuristic over the first 512 bytes
//  3. magic-number table over the first up to 1 KiB
//  4. filename extension fallback
//  5. application/octet-stream
//
// Sniff never returns an empty MIME.
func Sniff(previewBytes []byte, filename string, allowExternal bool) Result {
	if allowExternal {
		if mime, ok := detectExternal(previewBytes); ok {
			return Result{MIME: mime, Method: MethodExternal, Detail: "external detector matched " + mime}
		}
	}

	if isLikelyText(previewBytes) {
		mime := textSubtype(filename)
		return Result{MIME: mime, Method: MethodText, Detail: "text-content heuristic, extension-derived subtype"}
	}

	magicInput := previewBytes
	if len(magicInput) > 1024 {
		magicInput = magicInput[:1024]
	}
	if mime := detectByMagic(magicInput); mime != "" {
		return Result{MIME: mime, Method: MethodMagic, Detail: "magic-number match"}
	}

	if filename != "" {
		if mime := ExtensionMIME(filename); mime != "" {
			return Result{MIME: mime, Method: MethodExtension, Detail: "extension fallback"}
		}
	}

	return Result{MIME: "application/octet-stream", Method: MethodFallback, Detail: "no signature or extension matched"}
}

func stripParameters(contentType string) string {
	ct := contentType
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// stdlibFallback is kept for parity with filevalidator's behavior of
// falling back to http.DetectContentType when nothing else matches;
// Sniff itself does not call it (the real fallback is the literal
// application/octet-stream constant), but detection tests use it to
// sanity-check the magic table against the standard library's sniffer.
func stdlibFallback(data []byte) string {
	return stripParameters(http.DetectContentType(data))
}
