// Package httpserver wires the orchestrator's phase machine to a chi
// router: one ingress route for multipart uploads, a liveness probe,
// and a Prometheus scrape endpoint. Router construction and the
// graceful New/Run/Shutdown shape follow vango-go-vango's
// pkg/server.Server, adapted from a WebSocket session server to a
// stateless upload gateway.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/avgate/avgate/orchestrator"
)

// Config controls listen address and the timeouts applied to the
// underlying net/http.Server.
type Config struct {
	Address           string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// Server is the gateway's HTTP front door.
type Server struct {
	cfg        Config
	orch       *orchestrator.Orchestrator
	log        *logrus.Logger
	httpServer *http.Server
}

// New builds a Server. registry is the Prometheus registry served on
// /metrics; when it is nil, no /metrics route is mounted.
func New(cfg Config, orch *orchestrator.Orchestrator, log *logrus.Logger, registry *prometheus.Registry) *Server {
	cfg = cfg.withDefaults()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestIDMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Post("/upload/*", orch.Handle)

	return &Server{
		cfg:  cfg,
		orch: orch,
		log:  log,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           r,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
	}
}

// Handler exposes the built router directly, for use in httptest-based
// integration tests that don't want a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens and serves until the context is cancelled, then performs
// a graceful shutdown bounded by cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("address", s.cfg.Address).Info("httpserver listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.log.Info("httpserver shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// requestIDMiddleware assigns an X-Request-ID header when the caller
// didn't supply one, so every downstream log line and error response
// can correlate on it. The orchestrator re-reads this same header.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			r.Header.Set("X-Request-ID", middleware.GetReqID(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}
