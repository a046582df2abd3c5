package muxcache

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/muxcache/protocol"
)

// ServerPool is the connection pool and optional circuit breaker of one server.
type ServerPool struct {
	addr           string
	pool           Pool
	circuitBreaker *CircuitBreaker
}

func newServerPool(addr string, pool Pool, cb *CircuitBreaker) *ServerPool {
	return &ServerPool{addr: addr, pool: pool, circuitBreaker: cb}
}

func (sp *ServerPool) Address() string {
	return sp.addr
}

// ServerPoolStats contains stats for a single server pool.
type ServerPoolStats struct {
	Addr                 string
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (sp *ServerPool) Stats() ServerPoolStats {
	stats := ServerPoolStats{
		Addr:      sp.addr,
		PoolStats: sp.pool.Stats(),
	}
	if sp.circuitBreaker != nil {
		stats.CircuitBreakerState = sp.circuitBreaker.State()
		stats.CircuitBreakerCounts = sp.circuitBreaker.Counts()
	}
	return stats
}

// Execute sends req to the server and waits for its response, through the circuit
// breaker when one is configured.
func (sp *ServerPool) Execute(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	if sp.circuitBreaker == nil {
		return sp.execute(ctx, req)
	}
	return sp.circuitBreaker.Execute(func() (protocol.Message, error) {
		return sp.execute(ctx, req)
	})
}

// maxStaleRetries bounds how many closed pooled connections are discarded by one request.
const maxStaleRetries = 3

func (sp *ServerPool) execute(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	for attempt := 0; ; attempt++ {
		res, err := sp.pool.Acquire(ctx)
		if err != nil {
			return protocol.Message{}, err
		}

		conn := res.Value()
		if conn.IsClosed() {
			res.Destroy()
			if attempt < maxStaleRetries {
				continue
			}
			return protocol.Message{}, conn.Err()
		}

		// The connection is multiplexed: it goes back to the pool as soon as the
		// request is written, and the response is awaited without holding it.
		id, future := conn.call(req)
		res.Release()

		resp, err := future.Wait(ctx)
		if err != nil && ctx.Err() != nil {
			conn.forget(id)
		}
		return resp, err
	}
}

// checkConnections destroys idle connections that are closed, too old, idle for too
// long, or that fail a ping.
func (sp *ServerPool) checkConnections(maxLifetime, maxIdle, pingTimeout time.Duration) {
	now := time.Now()

	for _, res := range sp.pool.AcquireAllIdle() {
		conn := res.Value()

		switch {
		case conn.IsClosed():
			res.Destroy()
		case conn.InFlight() > 0:
			// Still multiplexing requests released by execute.
			res.ReleaseUnused()
		case maxLifetime > 0 && now.Sub(res.CreationTime()) > maxLifetime:
			res.Destroy()
		case maxIdle > 0 && res.IdleDuration() > maxIdle:
			res.Destroy()
		default:
			if err := ping(conn, pingTimeout); err != nil {
				res.Destroy()
				continue
			}
			res.ReleaseUnused()
		}
	}
}

func ping(conn *Connection, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (sp *ServerPool) Close() {
	sp.pool.Close()
}
