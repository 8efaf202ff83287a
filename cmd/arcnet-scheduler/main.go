// Command arcnet-scheduler runs the regional inference scheduler: it
// consumes node telemetry and inference requests from the event bus,
// maintains an in-memory mirror of node state, and schedules, retries,
// or rejects each request.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arc-pbc-co/arcnet-scheduler/internal/config"
	"github.com/arc-pbc-co/arcnet-scheduler/internal/supervisor"
)

// Exit codes, per the configuration and runtime contract: 1
// configuration error, 2 transport construction failure, 3 runtime
// (loop) failure. A clean shutdown exits 0.
const (
	exitConfigError    = 1
	exitTransportError = 2
	exitRuntimeError   = 3
)

func main() {
	configPath := flag.String("config", "config.hcl", "Path to configuration file")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "arcnet-scheduler",
		Level: hclog.Info,
	})

	logger.Info("starting arcnet-scheduler", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(exitConfigError)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	serveMetrics(cfg.MetricsAddr, registry, logger)

	sup, err := supervisor.New(cfg, registry, logger)
	if err != nil {
		logger.Error("failed to initialize scheduler components", "error", err)
		os.Exit(exitTransportError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	runErr := sup.Run(ctx)
	sup.Stop()

	if runErr != nil && runErr != context.Canceled {
		logger.Error("scheduler stopped with error", "error", runErr)
		os.Exit(exitRuntimeError)
	}

	logger.Info("arcnet-scheduler stopped gracefully")
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, logger hclog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
}
