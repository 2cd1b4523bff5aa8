// Command avgate-server wires avgate's configuration, logging, circuit
// breakers, ICAP client, and backend forwarder into an httpserver.Server
// and runs it until SIGINT/SIGTERM, following the signal-driven
// graceful-shutdown shape of vango-go-vango's pkg/server.Server.Run and
// alex-server's container/router wiring in cmd/alex-server/main.go.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avgate/avgate"
	"github.com/avgate/avgate/backend"
	"github.com/avgate/avgate/breaker"
	"github.com/avgate/avgate/httpserver"
	"github.com/avgate/avgate/icap"
	"github.com/avgate/avgate/orchestrator"
	"github.com/avgate/avgate/tmpsweep"
)

func main() {
	cfg, err := avgate.LoadConfig()
	if err != nil {
		log.Fatalf("avgate-server: failed to load configuration: %v", err)
	}

	logger := avgate.NewLogger()
	logger.Info("avgate-server starting")
	icapLogger := avgate.NewICAPLogger(cfg.LogIcapTraffic)

	registry := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(registry)

	breakers := breaker.NewRegistry()
	icapBreaker := breakers.Register("icap", breaker.Config{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second})
	backendBreaker := breakers.Register("backend", breaker.Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})
	metrics.WatchBreaker("icap", icapBreaker)
	metrics.WatchBreaker("backend", backendBreaker)

	icapClient := icap.NewClient(icap.Config{
		Host:        cfg.IcapServerHost,
		Port:        cfg.IcapServerPort,
		Service:     cfg.IcapServiceName,
		PreviewSize: cfg.IcapPreviewSize,
		DialTimeout: cfg.SocketTimeout,
		IOTimeout:   cfg.SocketTimeout,
		Logger:      icapLogger,
	}, nil)

	forwarder := backend.New(backend.Config{
		Protocol: cfg.BackendProtocol,
		Host:     cfg.BackendHost,
		Port:     cfg.BackendPort,
	}, nil)

	orch := &orchestrator.Orchestrator{
		Config:         cfg,
		Logger:         logger,
		Metrics:        metrics,
		IcapBreaker:    icapBreaker,
		BackendBreaker: backendBreaker,
		IcapClient:     icapClient,
		Forwarder:      forwarder,
	}

	srv := httpserver.New(httpserver.Config{Address: ":8080"}, orch, logger, registry)

	sweeper := tmpsweep.New(tmpsweep.Config{}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweeper.Run(ctx)

	if err := srv.Run(ctx); err != nil {
		logger.WithError(err).Fatal("avgate-server exited with error")
	}
	logger.Info("avgate-server shutdown complete")
}
