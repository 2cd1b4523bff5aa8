package icap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContentSource is the subset of buffer.Buffer the client needs: a
// bounded preview and a fresh reader from an arbitrary offset. Keeping
// this as an interface (rather than importing the buffer package
// directly) lets client_test.go exercise the wire protocol against
// plain byte slices without a real Buffer.
type ContentSource interface {
	Preview(n int) ([]byte, error)
	Reader(startOffset int64) (io.Reader, error)
	TotalSize() int64
}

// Config configures a Client's connection to one ICAP service endpoint.
type Config struct {
	Host        string
	Port        int
	Service     string
	PreviewSize int
	DialTimeout time.Duration
	IOTimeout   time.Duration
	// Logger receives DebugLevel entries for each preview/continuation/
	// response step of a Scan. Nil disables step logging entirely.
	Logger *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 1344
	}
	if c.PreviewSize == 0 {
		c.PreviewSize = 4096
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = 30 * time.Second
	}
	return c
}

// Client drives one REQMOD+Preview exchange per Scan call. It holds no
// persistent connection state; every Scan dials fresh rather than
// pooling ICAP connections.
type Client struct {
	cfg  Config
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewClient builds a Client for the given endpoint config. dial may be
// nil to use net.Dialer.DialContext; tests override it with an in-memory
// or loopback dialer.
func NewClient(cfg Config, dial func(ctx context.Context, network, addr string) (net.Conn, error)) *Client {
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	return &Client{cfg: cfg.withDefaults(), dial: dial}
}

// logStep emits one DebugLevel line for a wire-protocol step. A nil
// Logger makes this a no-op, so callers don't need to guard it.
func (c *Client) logStep(step string, fields logrus.Fields) {
	if c.cfg.Logger == nil {
		return
	}
	c.cfg.Logger.WithFields(fields).Debug(step)
}

// Scan performs one REQMOD request against source and returns the
// resulting Verdict. declaredMIME and filename are not sent on the wire:
// the encapsulated HTTP request head is fixed (see
// encapsulatedRequestHead). It never panics on a malformed
// response; protocol errors surface as Verdict{Kind: ProtocolError}.
func (c *Client) Scan(ctx context.Context, source ContentSource, declaredMIME, filename string) (Verdict, error) {
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, err := c.dial(dialCtx, "tcp", addr)
	if err != nil {
		return Verdict{Kind: ProtocolError, Detail: fmt.Sprintf("dial %s: %v", addr, err)}, nil
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout))
	}

	total := source.TotalSize()
	preview, err := source.Preview(c.cfg.PreviewSize)
	if err != nil {
		return Verdict{Kind: ProtocolError, Detail: fmt.Sprintf("reading preview: %v", err)}, nil
	}
	c.logStep("sending preview", logrus.Fields{"preview_bytes": len(preview), "total_bytes": total})

	if err := c.writeRequest(conn, source, preview, total, declaredMIME, filename); err != nil {
		return Verdict{Kind: ProtocolError, Detail: fmt.Sprintf("writing request: %v", err)}, nil
	}

	br := bufio.NewReader(conn)
	sl, headers, err := readResponse(br)
	if err != nil {
		return Verdict{Kind: ProtocolError, Detail: err.Error()}, nil
	}
	c.logStep("received response", logrus.Fields{"status": sl.Code})

	if sl.Code == 100 {
		// The preview did not cover the full body and the server wants
		// the remainder: stream it, then read the real final response.
		c.logStep("sending remainder after 100-continue", logrus.Fields{"remaining_bytes": total - int64(len(preview))})
		if err := c.writeRemainder(conn, source, preview, total); err != nil {
			return Verdict{Kind: ProtocolError, Detail: fmt.Sprintf("writing remainder: %v", err)}, nil
		}
		if err := discardBlankLine(br); err != nil {
			return Verdict{Kind: ProtocolError, Detail: err.Error()}, nil
		}
		sl, headers, err = readResponse(br)
		if err != nil {
			return Verdict{Kind: ProtocolError, Detail: err.Error()}, nil
		}
		c.logStep("received final response", logrus.Fields{"status": sl.Code})
	}

	return interpretStatus(sl, headers), nil
}

// writeRequest sends the REQMOD request line, headers, and the
// encapsulated HTTP request head followed by the preview chunk and the
// ordinary "0" terminator, whether or not the preview covers the whole
// body.
func (c *Client) writeRequest(w io.Writer, source ContentSource, preview []byte, total int64, declaredMIME, filename string) error {
	httpHead := encapsulatedRequestHead(filename, declaredMIME, total)

	reqHdrLen := len(httpHead)
	lines := []string{
		fmt.Sprintf("REQMOD icap://%s:%d/%s ICAP/1.0", c.cfg.Host, c.cfg.Port, c.cfg.Service),
		fmt.Sprintf("Host: %s:%d", c.cfg.Host, c.cfg.Port),
		"Allow: 204",
		fmt.Sprintf("Preview: %d", len(preview)),
		fmt.Sprintf("Encapsulated: req-hdr=0, req-body=%d", reqHdrLen),
		"",
		"",
	}
	if _, err := io.WriteString(w, strings.Join(lines, "\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(httpHead); err != nil {
		return err
	}

	if len(preview) > 0 {
		if err := writeChunk(w, preview); err != nil {
			return err
		}
	}
	return writeFinalChunk(w)
}

// writeRemainder streams the rest of the body after a 100-Continue,
// reading fresh from source starting where the preview left off. The
// remainder is sent as one chunk: a single size header for the whole
// remaining_size, the raw bytes (however many reads that takes), one
// trailing CRLF, then the ieof terminator. When the preview already
// carried the whole body, only the ieof terminator is sent.
func (c *Client) writeRemainder(w io.Writer, source ContentSource, preview []byte, total int64) error {
	remaining := total - int64(len(preview))
	if remaining <= 0 {
		return writeIEOFChunk(w)
	}

	r, err := source.Reader(int64(len(preview)))
	if err != nil {
		return err
	}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}

	if _, err := fmt.Fprintf(w, "%x\r\n", remaining); err != nil {
		return err
	}

	buf := make([]byte, 64*1024)
	var written int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if written != remaining {
		return fmt.Errorf("icap: remainder read %d bytes, expected %d", written, remaining)
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	return writeIEOFChunk(w)
}

// encapsulatedRequestHead builds the fixed-shape HTTP request head that
// is embedded verbatim in the ICAP request body: the request line and
// headers are always the same regardless of the uploaded file, so the
// resulting req-body length in the Encapsulated header is stable too.
func encapsulatedRequestHead(filename, declaredMIME string, total int64) []byte {
	head := fmt.Sprintf(
		"POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: %d\r\n\r\n",
		total,
	)
	_ = filename     // not part of the encapsulated request head; identifying metadata only
	_ = declaredMIME // identifying metadata only; ICAP servers read Content-Type from the body headers if present, not required by the wire format
	return []byte(head)
}

// interpretStatus turns a raw ICAP status line plus headers into a
// Verdict using the standard 204/2xx/4xx mapping.
func interpretStatus(sl statusLine, headers []string) Verdict {
	switch {
	case sl.Code == 204:
		return Verdict{Kind: Clean}
	case sl.Code >= 200 && sl.Code < 300:
		return Verdict{Kind: Clean}
	case sl.Code >= 400 && sl.Code < 600:
		return Verdict{
			Kind:        Blocked,
			HTTPCode:    sl.Code,
			Message:     sl.Message,
			IsSizeLimit: containsSizeLimitMarker(headers),
			RawHeaders:  headers,
		}
	default:
		return Verdict{Kind: ProtocolError, Detail: fmt.Sprintf("unexpected ICAP status %d %s", sl.Code, sl.Message)}
	}
}
