// Package backend builds and sends the chunked multipart POST that
// relays a scanned upload to the origin service, and relays its
// response back unchanged: copy-then-filter request headers, stream
// status/headers/body back verbatim, with a lazy preamble/file/
// postamble body construction that never buffers the whole envelope
// in memory.
package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BodySource is the subset of buffer.Buffer the forwarder needs: a
// fresh reader from an arbitrary offset and a total size. Kept as an
// interface so forwarder_test.go can exercise this package against
// plain byte slices.
type BodySource interface {
	Reader(startOffset int64) (io.Reader, error)
	TotalSize() int64
}

// PartHeaders are the multipart headers captured from the original
// file part (Content-Disposition, Content-Type, etc.), joined with
// CRLF into the preamble exactly as received.
type PartHeaders []string

func (p PartHeaders) join() string {
	return strings.Join([]string(p), "\r\n")
}

// hopByHopResponseHeaders are stripped from the relayed response.
var hopByHopResponseHeaders = map[string]bool{
	"Connection":        true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
}

// excludedRequestHeaders are never copied from the inbound request onto
// the forwarded one; the forwarder sets its own versions of each.
var excludedRequestHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Content-Type":      true,
	"Transfer-Encoding": true,
}

// Config tunes the forwarder's target and timeouts.
type Config struct {
	Protocol string // "http" or "https"
	Host     string
	Port     int

	Timeout         time.Duration
	ExtendedTimeout time.Duration // used for payloads over the 100 MiB threshold
}

func (c Config) withDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = "http"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.ExtendedTimeout == 0 {
		c.ExtendedTimeout = 300 * time.Second
	}
	return c
}

const extendedThreshold = 100 * 1024 * 1024

// RequestContext carries the per-request data the forwarder needs that
// isn't part of the file body itself: the original request's URI and
// headers, and the inbound connection's identifying info for the
// X-Forwarded-* headers.
type RequestContext struct {
	RequestURI     string
	InboundHeaders http.Header
	RemoteAddr     string
	ForwardedProto string
	ForwardedHost  string
	ForwardedPort  string
}

// Forwarder sends one request per call; it never retries on the main
// path (see DESIGN.md's open-question decision on backend retries).
type Forwarder struct {
	cfg    Config
	client *http.Client
}

// New builds a Forwarder. httpClient may be nil to use
// http.DefaultTransport; the configured timeout is applied per request
// by Forward. Tests inject a client pointed at an httptest server.
func New(cfg Config, httpClient *http.Client) *Forwarder {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Forwarder{cfg: cfg, client: httpClient}
}

// Forward builds the multipart envelope, sends it, and returns the raw
// *http.Response for the caller to relay (status, filtered headers,
// and body) to the original client. The caller is responsible for
// closing the response body.
func (f *Forwarder) Forward(ctx context.Context, rc RequestContext, partHeaders PartHeaders, source BodySource) (*http.Response, error) {
	boundary, err := newBoundary()
	if err != nil {
		return nil, fmt.Errorf("backend: generating boundary: %w", err)
	}

	body, err := buildBody(boundary, partHeaders, source)
	if err != nil {
		return nil, fmt.Errorf("backend: building body: %w", err)
	}

	url := f.targetURL(rc.RequestURI)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("backend: building request: %w", err)
	}

	copyRequestHeaders(req.Header, rc.InboundHeaders)
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	req.Header.Set("Transfer-Encoding", "chunked")
	req.ContentLength = -1
	req.Host = f.authority()
	setForwardedHeaders(req.Header, rc)

	timeout := f.cfg.Timeout
	if source.TotalSize() > extendedThreshold {
		timeout = f.cfg.ExtendedTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(reqCtx)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *Forwarder) targetURL(requestURI string) string {
	return fmt.Sprintf("%s://%s%s", f.cfg.Protocol, f.authority(), requestURI)
}

// authority omits the port when it is the default for the protocol.
func (f *Forwarder) authority() string {
	defaultPort := 80
	if f.cfg.Protocol == "https" {
		defaultPort = 443
	}
	if f.cfg.Port == 0 || f.cfg.Port == defaultPort {
		return f.cfg.Host
	}
	return fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port)
}

// buildBody returns a lazy io.Reader over the three body phases:
// preamble, file, postamble. Construction itself does not
// read the file — the file phase is a fresh Reader(0) pulled from
// source, read incrementally by whatever consumes the returned reader.
func buildBody(boundary string, partHeaders PartHeaders, source BodySource) (io.Reader, error) {
	preamble := fmt.Sprintf("--%s\r\n%s\r\n\r\n", boundary, partHeaders.join())
	postamble := fmt.Sprintf("\r\n--%s--\r\n", boundary)

	fileReader, err := source.Reader(0)
	if err != nil {
		return nil, err
	}

	return io.MultiReader(
		strings.NewReader(preamble),
		fileReader,
		strings.NewReader(postamble),
	), nil
}

func newBoundary() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "----WebKitFormBoundary" + hex.EncodeToString(raw), nil
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if excludedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func setForwardedHeaders(h http.Header, rc RequestContext) {
	h.Set("X-Forwarded-For", rc.RemoteAddr)
	h.Set("X-Real-IP", hostOnly(rc.RemoteAddr))
	if rc.ForwardedProto != "" {
		h.Set("X-Forwarded-Proto", rc.ForwardedProto)
	}
	if rc.ForwardedHost != "" {
		h.Set("X-Forwarded-Host", rc.ForwardedHost)
	}
	if rc.ForwardedPort != "" {
		h.Set("X-Forwarded-Port", rc.ForwardedPort)
	}
}

func hostOnly(remoteAddr string) string {
	idx := strings.LastIndex(remoteAddr, ":")
	if idx < 0 {
		return remoteAddr
	}
	return remoteAddr[:idx]
}

// RelayHeaders copies dst from the backend response's headers,
// excluding the hop-by-hop set.
func RelayHeaders(dst http.Header, resp *http.Response) {
	for key, values := range resp.Header {
		if hopByHopResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// RelayBody copies the backend response body to w verbatim.
func RelayBody(w io.Writer, resp *http.Response) (int64, error) {
	return io.Copy(w, resp.Body)
}
