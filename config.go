package muxcache

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pior/muxcache/protocol"
)

// Default server configuration values.
const (
	DefaultAddr         = ":7878"
	DefaultMaxFrameSize = protocol.DefaultMaxFrameSize
)

// ServerConfig holds the configuration of a cache server process.
type ServerConfig struct {
	// Addr is the TCP address to listen on.
	Addr string

	// MaxFrameSize is the largest frame accepted from a client, in bytes.
	// Larger frames close the connection.
	MaxFrameSize int

	// Workers is the size of the engine worker pool. Zero means GOMAXPROCS.
	Workers int

	// Shards is the number of store partitions. Zero means DefaultShards.
	Shards int

	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogRequests enables the request/response log decorator.
	LogRequests bool

	// TraceExporter is one of none, stdout, otlp.
	TraceExporter string

	// MetricsExporter is one of none, stdout, otlp, prometheus.
	MetricsExporter string

	// MetricsAddr is the HTTP address serving /metrics when MetricsExporter is prometheus.
	MetricsAddr string
}

// DefaultServerConfig returns the configuration used when nothing is overridden.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            DefaultAddr,
		MaxFrameSize:    DefaultMaxFrameSize,
		Shards:          DefaultShards,
		LogLevel:        "info",
		TraceExporter:   "none",
		MetricsExporter: "none",
		MetricsAddr:     ":9178",
	}
}

var (
	validTraceExporters   = map[string]bool{"none": true, "stdout": true, "otlp": true}
	validMetricsExporters = map[string]bool{"none": true, "stdout": true, "otlp": true, "prometheus": true}
)

// Validate reports the first invalid setting.
func (c ServerConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid addr %q: %w", c.Addr, err)
	}
	if c.MaxFrameSize < protocol.HeaderLen {
		return fmt.Errorf("max frame size must be at least %d bytes, got %d", protocol.HeaderLen, c.MaxFrameSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Shards < 0 {
		return fmt.Errorf("shards must not be negative, got %d", c.Shards)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %s", c.IdleTimeout)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if !validTraceExporters[c.TraceExporter] {
		return fmt.Errorf("unknown trace exporter: %q", c.TraceExporter)
	}
	if !validMetricsExporters[c.MetricsExporter] {
		return fmt.Errorf("unknown metrics exporter: %q", c.MetricsExporter)
	}
	if c.MetricsExporter == "prometheus" && c.MetricsAddr == "" {
		return errors.New("metrics addr is required with the prometheus exporter")
	}
	return nil
}

// EngineConfig returns the engine settings of c.
func (c ServerConfig) EngineConfig(logger *slog.Logger) EngineConfig {
	return EngineConfig{
		Workers: c.Workers,
		Shards:  c.Shards,
		Logger:  logger,
	}
}

// ParseLogLevel parses debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}
