package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pior/muxcache"
)

const envPrefix = "MUXCACHE_"

// loadConfig builds the server configuration. Flags override MUXCACHE_* environment
// variables, which override the defaults.
func loadConfig(args []string, getenv func(string) string, output io.Writer) (muxcache.ServerConfig, error) {
	config := muxcache.DefaultServerConfig()

	if err := applyEnv(&config, getenv); err != nil {
		return config, err
	}

	fs := flag.NewFlagSet("muxcache-server", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&config.Addr, "addr", config.Addr, "TCP address to listen on")
	fs.IntVar(&config.MaxFrameSize, "max-frame-size", config.MaxFrameSize, "Largest accepted frame in bytes")
	fs.IntVar(&config.Workers, "workers", config.Workers, "Engine worker pool size (0 = GOMAXPROCS)")
	fs.IntVar(&config.Shards, "shards", config.Shards, "Number of store shards")
	fs.DurationVar(&config.IdleTimeout, "idle-timeout", config.IdleTimeout, "Close idle connections after this duration (0 = never)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&config.LogRequests, "log-requests", config.LogRequests, "Log every request and response")
	fs.StringVar(&config.TraceExporter, "trace-exporter", config.TraceExporter, "Trace exporter (none, stdout, otlp)")
	fs.StringVar(&config.MetricsExporter, "metrics-exporter", config.MetricsExporter, "Metrics exporter (none, stdout, otlp, prometheus)")
	fs.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "HTTP address serving /metrics for the prometheus exporter")

	if err := fs.Parse(args); err != nil {
		return config, err
	}
	if fs.NArg() > 0 {
		return config, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	return config, config.Validate()
}

func applyEnv(config *muxcache.ServerConfig, getenv func(string) string) error {
	lookup := func(name string) (string, bool) {
		v := getenv(envPrefix + name)
		return v, v != ""
	}

	if v, ok := lookup("ADDR"); ok {
		config.Addr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		config.LogLevel = v
	}
	if v, ok := lookup("TRACE_EXPORTER"); ok {
		config.TraceExporter = v
	}
	if v, ok := lookup("METRICS_EXPORTER"); ok {
		config.MetricsExporter = v
	}
	if v, ok := lookup("METRICS_ADDR"); ok {
		config.MetricsAddr = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"MAX_FRAME_SIZE", &config.MaxFrameSize},
		{"WORKERS", &config.Workers},
		{"SHARDS", &config.Shards},
	}
	for _, e := range ints {
		v, ok := lookup(e.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, e.name, err)
		}
		*e.dst = n
	}

	if v, ok := lookup("IDLE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sIDLE_TIMEOUT: %w", envPrefix, err)
		}
		config.IdleTimeout = d
	}
	if v, ok := lookup("LOG_REQUESTS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sLOG_REQUESTS: %w", envPrefix, err)
		}
		config.LogRequests = b
	}

	return nil
}
