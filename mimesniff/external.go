package mimesniff

import (
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// externalTimeout bounds the external detector, equivalent to running
// it as `timeout 2s file --mime-type -b <temp_path>`. gabriel-vasile/mimetype
// is an in-process library, so the 2-second wall-clock bound is enforced
// here with a worker goroutine and a timer rather than the external
// `timeout` wrapper; a native library binding stands in for the
// process-level invocation as long as it keeps the same
// "returns specific type or indicates failure within the bound" contract
// holds.
const externalTimeout = 2 * time.Second

// externalMinBytes is the minimum preview size required before the
// external detector is consulted at all.
const externalMinBytes = 32

type externalResult struct {
	mime string
	ok   bool
}

// detectExternal runs the external/library detector against data and
// returns (mime, true) when it produced a specific, non-generic type
// within externalTimeout. It returns (_, false) on timeout, on a
// generic/"data" result, or when data is too small to bother with.
func detectExternal(data []byte) (string, bool) {
	if len(data) < externalMinBytes {
		return "", false
	}

	resultCh := make(chan externalResult, 1)
	go func() {
		mt := mimetype.Detect(data)
		resultCh <- externalResult{mime: mt.String(), ok: true}
	}()

	select {
	case res := <-resultCh:
		if !res.ok {
			return "", false
		}
		mime := stripParameters(res.mime)
		if mime == "" || mime == "application/octet-stream" || mime == "data" {
			return "", false
		}
		return mime, true
	case <-time.After(externalTimeout):
		return "", false
	}
}
