package muxcache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/pior/muxcache/protocol"
)

const instrumentationName = "github.com/pior/muxcache"

// TelemetryService records an OpenTelemetry span and metrics for every request.
//
// Spans are named muxcache.<op>. Metrics:
//   - muxcache.requests: counter of resolved requests, by op and status
//   - muxcache.request.duration_us: histogram of request latency in microseconds
type TelemetryService struct {
	inner       Service
	instruments *instruments
}

type instruments struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

var _ Service = (*TelemetryService)(nil)

// NewTelemetryService wraps inner. Nil providers fall back to no-op implementations.
func NewTelemetryService(inner Service, tp trace.TracerProvider, mp metric.MeterProvider) (*TelemetryService, error) {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}

	meter := mp.Meter(instrumentationName)

	requests, err := meter.Int64Counter(
		"muxcache.requests",
		metric.WithDescription("Number of resolved requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"muxcache.request.duration_us",
		metric.WithDescription("Request latency from submission to resolution"),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	return &TelemetryService{
		inner: inner,
		instruments: &instruments{
			tracer:   tp.Tracer(instrumentationName),
			requests: requests,
			duration: duration,
		},
	}, nil
}

func (s *TelemetryService) Call(ctx context.Context, req protocol.Message) *Future {
	ins := s.instruments
	op := req.Op.String()

	ctx, span := ins.tracer.Start(ctx, "muxcache."+op,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("muxcache.op", op),
			attribute.Int("muxcache.key_len", len(req.Key)),
		),
	)
	start := time.Now()

	return s.inner.Call(ctx, req).Then(func(resp protocol.Message, err error) (protocol.Message, error) {
		elapsed := time.Since(start)

		status := "transport_error"
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case resp.Code == protocol.CodeError:
			status = resp.Code.String()
			span.SetStatus(codes.Error, string(resp.Data()))
		default:
			status = resp.Code.String()
			span.SetAttributes(attribute.Bool("muxcache.payload", resp.HasPayload()))
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		opt := metric.WithAttributes(
			attribute.String("muxcache.op", op),
			attribute.String("muxcache.status", status),
		)
		ins.requests.Add(ctx, 1, opt)
		ins.duration.Record(ctx, float64(elapsed.Microseconds()), opt)

		return resp, err
	})
}

func (s *TelemetryService) NewService() (Service, error) {
	inner, err := s.inner.NewService()
	if err != nil {
		return nil, err
	}
	return &TelemetryService{inner: inner, instruments: s.instruments}, nil
}

func (s *TelemetryService) Unwrap() Service {
	return s.inner
}
