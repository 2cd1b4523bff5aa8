package httpserver

import (
	"bufio"
	"bytes"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avgate/avgate"
	"github.com/avgate/avgate/backend"
	"github.com/avgate/avgate/breaker"
	"github.com/avgate/avgate/icap"
	"github.com/avgate/avgate/orchestrator"
)

func fakeICAPAlwaysClean(t *testing.T) (int, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil || strings.TrimRight(line, "\r\n") == "" {
						break
					}
				}
				buf := make([]byte, 4096)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						break
					}
					trimmed := strings.TrimRight(line, "\r\n")
					if trimmed == "0; ieof" || trimmed == "0" {
						break
					}
					if trimmed == "" {
						continue
					}
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
								break
							}
							remaining -= got
						}
						r.ReadString('\n')
					}
				}
				io.WriteString(conn, "ICAP/1.0 204 No Content\r\n\r\n")
			}(conn)
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port
	return port, func() { ln.Close() }
}

func TestServerHealthz(t *testing.T) {
	s := New(Config{}, &orchestrator.Orchestrator{}, avgate.NewLogger(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	orchestrator.NewMetrics(reg)
	s := New(Config{}, &orchestrator.Orchestrator{}, avgate.NewLogger(), reg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "avgate_buffer_hybrid_transitions_total") {
		t.Fatalf("expected avgate_buffer_hybrid_transitions_total in metrics output, got: %s", rec.Body.String())
	}
}

func TestServerUploadRouteForwardsCleanFile(t *testing.T) {
	icapPort, stopICAP := fakeICAPAlwaysClean(t)
	defer stopICAP()

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer backendSrv.Close()

	cfg := &avgate.Config{UploadChunkSize: 4096, LimitsExceededBehaviour: "block"}
	log := avgate.NewLogger()
	log.SetOutput(io.Discard)

	icapClient := icap.NewClient(icap.Config{Host: "127.0.0.1", Port: icapPort, Service: "avscan"}, nil)
	u, _ := url.Parse(backendSrv.URL)
	port, _ := strconv.Atoi(u.Port())
	forwarder := backend.New(backend.Config{Protocol: "http", Host: u.Hostname(), Port: port}, backendSrv.Client())

	orch := &orchestrator.Orchestrator{
		Config:         cfg,
		Logger:         log,
		IcapBreaker:    breaker.New("icap", breaker.Config{}),
		BackendBreaker: breaker.New("backend", breaker.Config{}),
		IcapClient:     icapClient,
		Forwarder:      forwarder,
	}

	s := New(Config{}, orch, log, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "note.txt")
	part.Write([]byte("hello world"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
}
