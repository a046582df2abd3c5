// Command muxcache-server runs a multiplexed cache server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pior/muxcache"
	"github.com/pior/muxcache/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "muxcache-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer) error {
	config, err := loadConfig(args, getenv, stderr)
	if err != nil {
		return err
	}

	level, err := muxcache.ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     "muxcache",
		TraceExporter:   config.TraceExporter,
		MetricsExporter: config.MetricsExporter,
		Registerer:      registry,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			logger.Error("muxcache: telemetry shutdown failed", "error", err)
		}
	}()

	engine := muxcache.NewEngine(config.EngineConfig(logger))
	stats := muxcache.NewStats()

	pipeline := muxcache.PipelineConfig{}
	if config.LogRequests {
		pipeline.Logger = logger
		pipeline.LogLevel = slog.LevelInfo
	}
	if providers.TracerProvider != nil {
		pipeline.TracerProvider = providers.TracerProvider
	}
	if providers.MeterProvider != nil {
		pipeline.MeterProvider = providers.MeterProvider
	}

	service, err := muxcache.NewPipeline(engine, stats, pipeline)
	if err != nil {
		return err
	}

	server := muxcache.NewServer(service, config, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := server.ListenAndServe(gctx, config.Addr)
		if errors.Is(err, muxcache.ErrServerClosed) {
			return nil
		}
		return err
	})

	if config.MetricsExporter == "prometheus" {
		httpServer := &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("muxcache: serving metrics", "addr", config.MetricsAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(ctx)
		})
	}

	err = g.Wait()

	logger.Info("muxcache: shutting down")
	engine.Wait()

	snapshot := stats.Snapshot()
	logger.Info("muxcache: stopped",
		"requests", snapshot.Requests,
		"avg_latency_us", snapshot.AverageLatencyMicros(),
		"keys", engine.Len(),
	)
	return err
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
