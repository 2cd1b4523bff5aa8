package icap

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// memSource is a trivial ContentSource backed by a byte slice, used to
// exercise the wire protocol without a real buffer.Buffer.
type memSource struct {
	data []byte
}

func (m *memSource) Preview(n int) ([]byte, error) {
	if n >= len(m.data) {
		return m.data, nil
	}
	return m.data[:n], nil
}

func (m *memSource) Reader(startOffset int64) (io.Reader, error) {
	if startOffset >= int64(len(m.data)) {
		return strings.NewReader(""), nil
	}
	return strings.NewReader(string(m.data[startOffset:])), nil
}

func (m *memSource) TotalSize() int64 {
	return int64(len(m.data))
}

// fakeICAPServer accepts exactly one connection, reads the request up to
// the chunk terminator, then writes back a fixed response. It returns
// the port to dial and a stop func.
func fakeICAPServer(t *testing.T, respond func(r *bufio.Reader, w io.Writer)) (int, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		respond(r, conn)
	}()
	port := ln.Addr().(*net.TCPAddr).Port
	return port, func() { ln.Close() }
}

func drainRequest(r *bufio.Reader) {
	// Read ICAP headers.
	for {
		line, err := r.ReadString('\n')
		if err != nil || strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	// Read encapsulated HTTP head + chunked body until terminator.
	buf := make([]byte, 4096)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "0; ieof" || trimmed == "0" {
			return
		}
		if trimmed == "" {
			continue
		}
		// Heuristic: if it parses as hex, it's a chunk size; read and discard the payload.
		size64, err := strconv.ParseInt(trimmed, 16, 64)
		if err == nil && size64 > 0 {
			remaining := int(size64)
			for remaining > 0 {
				n := remaining
				if n > len(buf) {
					n = len(buf)
				}
				got, err := r.Read(buf[:n])
				if err != nil {
					return
				}
				remaining -= got
			}
			r.ReadString('\n') // trailing CRLF after chunk data
		}
	}
}

func dialerFor(port int) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		d := &net.Dialer{}
		return d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	}
}

func TestScanCleanOnImmediate204(t *testing.T) {
	port, stop := fakeICAPServer(t, func(r *bufio.Reader, w io.Writer) {
		drainRequest(r)
		io.WriteString(w, "ICAP/1.0 204 No Content\r\n\r\n")
	})
	defer stop()

	c := NewClient(Config{Host: "127.0.0.1", Port: port, Service: "avscan", PreviewSize: 4096}, dialerFor(port))
	v, err := c.Scan(context.Background(), &memSource{data: []byte("hello world")}, "text/plain", "a.txt")
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if v.Kind != Clean {
		t.Fatalf("Scan verdict = %+v, want Clean", v)
	}
}

func TestScanHandles100ContinueThen204(t *testing.T) {
	port, stop := fakeICAPServer(t, func(r *bufio.Reader, w io.Writer) {
		drainRequest(r)
		io.WriteString(w, "ICAP/1.0 100 Continue\r\n\r\n")
		drainRequest(r)
		// Real ICAP servers send a blank line before the final status
		// line after a 100-Continue remainder; the client must discard
		// it rather than feed it to the status-line parser.
		io.WriteString(w, "\r\nICAP/1.0 204 No Content\r\n\r\n")
	})
	defer stop()

	big := strings.Repeat("x", 1<<20)
	c := NewClient(Config{Host: "127.0.0.1", Port: port, Service: "avscan", PreviewSize: 16}, dialerFor(port))
	v, err := c.Scan(context.Background(), &memSource{data: []byte(big)}, "application/octet-stream", "big.bin")
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if v.Kind != Clean {
		t.Fatalf("Scan verdict = %+v, want Clean", v)
	}
}

func TestScanBlockedOn403(t *testing.T) {
	port, stop := fakeICAPServer(t, func(r *bufio.Reader, w io.Writer) {
		drainRequest(r)
		io.WriteString(w, "ICAP/1.0 403 Forbidden\r\nX-Infection-Found: Type=0; Resolution=2; Threat=Test-Virus;\r\n\r\n")
	})
	defer stop()

	c := NewClient(Config{Host: "127.0.0.1", Port: port, Service: "avscan", PreviewSize: 4096}, dialerFor(port))
	v, err := c.Scan(context.Background(), &memSource{data: []byte("infected")}, "application/octet-stream", "bad.exe")
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if v.Kind != Blocked || v.HTTPCode != 403 || v.IsSizeLimit {
		t.Fatalf("Scan verdict = %+v, want Blocked/403/non-size-limit", v)
	}
}

func TestScanBlockedOnSizeLimit(t *testing.T) {
	port, stop := fakeICAPServer(t, func(r *bufio.Reader, w io.Writer) {
		drainRequest(r)
		io.WriteString(w, "ICAP/1.0 403 Forbidden\r\nX-Blocked-By: Heuristics.Limits.Exceeded.MaxFileSize\r\n\r\n")
	})
	defer stop()

	c := NewClient(Config{Host: "127.0.0.1", Port: port, Service: "avscan", PreviewSize: 4096}, dialerFor(port))
	v, err := c.Scan(context.Background(), &memSource{data: []byte("oversized")}, "application/octet-stream", "huge.bin")
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if v.Kind != Blocked || !v.IsSizeLimit {
		t.Fatalf("Scan verdict = %+v, want Blocked with IsSizeLimit", v)
	}
}

func TestScanProtocolErrorOnDialFailure(t *testing.T) {
	c := NewClient(Config{Host: "127.0.0.1", Port: 1, Service: "avscan"}, func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, io.ErrClosedPipe
	})
	v, err := c.Scan(context.Background(), &memSource{data: []byte("x")}, "text/plain", "x.txt")
	if err != nil {
		t.Fatalf("Scan returned error instead of ProtocolError verdict: %v", err)
	}
	if v.Kind != ProtocolError {
		t.Fatalf("Scan verdict = %+v, want ProtocolError", v)
	}
}

func TestScanRespectsContextTimeout(t *testing.T) {
	port, stop := fakeICAPServer(t, func(r *bufio.Reader, w io.Writer) {
		// Never respond; the client's context deadline should fire.
		time.Sleep(200 * time.Millisecond)
	})
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(Config{Host: "127.0.0.1", Port: port, Service: "avscan"}, dialerFor(port))
	v, err := c.Scan(ctx, &memSource{data: []byte("slow")}, "text/plain", "slow.txt")
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if v.Kind != ProtocolError {
		t.Fatalf("Scan verdict = %+v, want ProtocolError on timeout", v)
	}
}

func TestScanLogsStepsAtDebugLevelWhenLoggerConfigured(t *testing.T) {
	port, stop := fakeICAPServer(t, func(r *bufio.Reader, w io.Writer) {
		drainRequest(r)
		io.WriteString(w, "ICAP/1.0 100 Continue\r\n\r\n")
		drainRequest(r)
		io.WriteString(w, "\r\nICAP/1.0 204 No Content\r\n\r\n")
	})
	defer stop()

	var logOutput bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logOutput)
	logger.SetLevel(logrus.DebugLevel)

	big := strings.Repeat("x", 1<<20)
	c := NewClient(Config{Host: "127.0.0.1", Port: port, Service: "avscan", PreviewSize: 16, Logger: logger}, dialerFor(port))
	v, err := c.Scan(context.Background(), &memSource{data: []byte(big)}, "application/octet-stream", "big.bin")
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if v.Kind != Clean {
		t.Fatalf("Scan verdict = %+v, want Clean", v)
	}

	logged := logOutput.String()
	for _, want := range []string{"sending preview", "received response", "sending remainder after 100-continue", "received final response"} {
		if !strings.Contains(logged, want) {
			t.Fatalf("log output missing step %q; got:\n%s", want, logged)
		}
	}
}
