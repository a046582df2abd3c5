package muxcache

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/muxcache/protocol"
)

// CircuitBreaker guards the requests sent to one server.
type CircuitBreaker = gobreaker.CircuitBreaker[protocol.Message]

// NewCircuitBreakerConfig returns a Config.NewCircuitBreaker function. A breaker opens
// once at least 3 requests were seen in the interval and 60% of them failed, and lets
// maxRequests through in half-open state after timeout.
//
// Only transport failures count: a server error response is a successful round trip.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(addr string) *CircuitBreaker {
	return func(addr string) *CircuitBreaker {
		return gobreaker.NewCircuitBreaker[protocol.Message](gobreaker.Settings{
			Name:        addr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && ratio >= 0.6
			},
		})
	}
}
