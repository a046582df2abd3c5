package muxcache

import (
	"context"
	"time"

	"github.com/pior/muxcache/protocol"
)

// StatsTypeID tags the text payload of a Stats response.
const StatsTypeID = 1

// StatsService counts requests and their latency, and answers Stats requests itself.
type StatsService struct {
	inner Service
	stats *Stats
}

var _ Service = (*StatsService)(nil)

// NewStatsService wraps inner. stats is shared with every instance created by NewService.
func NewStatsService(inner Service, stats *Stats) *StatsService {
	return &StatsService{inner: inner, stats: stats}
}

// Call answers OpStats immediately without calling the inner service. Any other request
// is delegated, and counted with its latency once the inner future resolves successfully.
func (s *StatsService) Call(ctx context.Context, req protocol.Message) *Future {
	if req.Op == protocol.OpStats {
		text := s.stats.Snapshot().Render(keyCount(s.inner))
		return Resolved(protocol.NewResponse(protocol.OpStats, protocol.CodeOK,
			protocol.NewPayload(StatsTypeID, []byte(text))))
	}

	start := time.Now()
	stats := s.stats
	return s.inner.Call(ctx, req).Then(func(resp protocol.Message, err error) (protocol.Message, error) {
		if err == nil {
			stats.Record(time.Since(start))
		}
		return resp, err
	})
}

func (s *StatsService) NewService() (Service, error) {
	inner, err := s.inner.NewService()
	if err != nil {
		return nil, err
	}
	return &StatsService{inner: inner, stats: s.stats}, nil
}

func (s *StatsService) Unwrap() Service {
	return s.inner
}

// Stats returns the shared counters.
func (s *StatsService) Stats() *Stats {
	return s.stats
}
