package muxcache

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pior/muxcache/protocol"
)

// Service turns one request into one deferred response.
//
// Contract:
//   - Call returns immediately; the returned Future resolves once the work completes.
//   - Call must not modify req.
//   - NewService returns an independent instance for a new connection. Instances share
//     only process-wide state (the Engine, the Stats counters, telemetry instruments).
type Service interface {
	Call(ctx context.Context, req protocol.Message) *Future
	NewService() (Service, error)
}

// KeyCounter is implemented by services that can report the number of stored keys.
type KeyCounter interface {
	Len() int
}

// keyCount returns the key count of the first KeyCounter found by unwrapping svc,
// or -1 when there is none.
func keyCount(svc Service) int {
	for svc != nil {
		if kc, ok := svc.(KeyCounter); ok {
			return kc.Len()
		}
		u, ok := svc.(interface{ Unwrap() Service })
		if !ok {
			return -1
		}
		svc = u.Unwrap()
	}
	return -1
}

// CacheService dispatches requests to an Engine.
type CacheService struct {
	engine *Engine
}

var _ Service = (*CacheService)(nil)

// NewCacheService returns a service backed by engine.
func NewCacheService(engine *Engine) *CacheService {
	return &CacheService{engine: engine}
}

func (s *CacheService) Call(_ context.Context, req protocol.Message) *Future {
	c, f := NewCompletion()
	s.engine.Process(req, c)

	op := req.Op
	return f.Then(func(resp protocol.Message, err error) (protocol.Message, error) {
		if err != nil {
			return errorResponse(op, err), nil
		}
		return resp, nil
	})
}

func (s *CacheService) NewService() (Service, error) {
	return &CacheService{engine: s.engine}, nil
}

// Len returns the number of keys in the engine.
func (s *CacheService) Len() int {
	return s.engine.Len()
}

// PipelineConfig selects the decorators of NewPipeline.
type PipelineConfig struct {
	// Logger enables request/response logging. If nil, no LogService is installed.
	Logger *slog.Logger

	// LogLevel is the level of request/response log records.
	LogLevel slog.Level

	// TracerProvider and MeterProvider enable the TelemetryService when either is set.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewPipeline builds the server pipeline: Log(Telemetry(Stats(Cache))), omitting the
// layers that config does not enable.
func NewPipeline(engine *Engine, stats *Stats, config PipelineConfig) (Service, error) {
	var svc Service = NewStatsService(NewCacheService(engine), stats)

	if config.TracerProvider != nil || config.MeterProvider != nil {
		telemetry, err := NewTelemetryService(svc, config.TracerProvider, config.MeterProvider)
		if err != nil {
			return nil, err
		}
		svc = telemetry
	}

	if config.Logger != nil {
		svc = NewLogService(svc, config.Logger, config.LogLevel)
	}

	return svc, nil
}
