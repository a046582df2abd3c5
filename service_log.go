package muxcache

import (
	"context"
	"log/slog"

	"github.com/pior/muxcache/protocol"
)

// LogService logs every request before delegating it, and its response once resolved.
// It never alters messages.
type LogService struct {
	inner  Service
	logger *slog.Logger
	level  slog.Level
}

var _ Service = (*LogService)(nil)

// NewLogService wraps inner. If logger is nil, slog.Default() is used.
func NewLogService(inner Service, logger *slog.Logger, level slog.Level) *LogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogService{inner: inner, logger: logger, level: level}
}

func (s *LogService) Call(ctx context.Context, req protocol.Message) *Future {
	logger, level := s.logger, s.level

	logger.Log(ctx, level, "muxcache: request", "message", req.String())

	return s.inner.Call(ctx, req).Then(func(resp protocol.Message, err error) (protocol.Message, error) {
		if err != nil {
			logger.Log(ctx, slog.LevelError, "muxcache: request failed", "op", req.Op.String(), "error", err)
			return resp, err
		}
		logger.Log(ctx, level, "muxcache: response", "message", resp.String())
		return resp, nil
	})
}

func (s *LogService) NewService() (Service, error) {
	inner, err := s.inner.NewService()
	if err != nil {
		return nil, err
	}
	return &LogService{inner: inner, logger: s.logger, level: s.level}, nil
}

func (s *LogService) Unwrap() Service {
	return s.inner
}
