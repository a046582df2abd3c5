package muxcache

import (
	"context"
	"sync"
	"time"

	"github.com/pior/muxcache/internal/coarsetime"
)

// NewChannelPool returns a pool that balances requests by load.
//
// Connections go back to the pool while their responses are still pending, so Acquire
// looks at each idle connection's in-flight count. It prefers a quiet connection, then
// dials a new one while the pool has room, then shares the least loaded connection.
// Connections that broke while idle are dropped on the way.
func NewChannelPool(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error) {
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		idle:        make([]*channelResource, 0, maxSize),
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

type channelResource struct {
	conn     *Connection
	pool     *channelPool
	created  time.Time
	lastUsed time.Time
}

func (r *channelResource) Value() *Connection { return r.conn }

func (r *channelResource) Release() {
	r.lastUsed = coarsetime.Now()
	r.pool.put(r)
}

// ReleaseUnused returns the resource without touching its last use time.
func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	r.conn.Close()
	r.pool.remove()
}

func (r *channelResource) CreationTime() time.Time { return r.created }

func (r *channelResource) IdleDuration() time.Duration {
	return coarsetime.Now().Sub(r.lastUsed)
}

type channelPool struct {
	constructor func(ctx context.Context) (*Connection, error)
	maxSize     int32

	mu     sync.Mutex
	idle   []*channelResource
	size   int32
	closed bool

	// ready wakes one waiter when a connection is released or a slot frees up.
	ready chan struct{}
	done  chan struct{}

	stats poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	var waitStart time.Time
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, ErrPoolClosed
		}

		if res := p.takeIdleLocked(); res != nil {
			if len(p.idle) > 0 {
				p.notify()
			}
			p.mu.Unlock()

			if !waitStart.IsZero() {
				p.stats.recordAcquireWait(time.Since(waitStart))
			}
			p.stats.recordAcquireFromIdle()
			return res, nil
		}

		if p.size < p.maxSize {
			p.size++
			p.mu.Unlock()
			return p.create(ctx)
		}
		p.mu.Unlock()

		if waitStart.IsZero() {
			waitStart = time.Now()
		}
		select {
		case <-p.ready:
		case <-p.done:
		case <-ctx.Done():
			p.stats.recordAcquireError()
			return nil, ctx.Err()
		}
	}
}

// takeIdleLocked removes and returns the idle connection with the fewest in-flight
// requests. It returns nil when every idle connection is busy and the pool can still
// grow.
func (p *channelPool) takeIdleLocked() *channelResource {
	best, bestLoad := -1, 0
	for i := 0; i < len(p.idle); {
		res := p.idle[i]
		if res.conn.IsClosed() {
			p.dropIdleLocked(i)
			res.conn.Close()
			p.size--
			p.stats.recordAcquireFromIdle()
			p.stats.recordDestroy()
			continue
		}

		load := res.conn.InFlight()
		if best < 0 || load < bestLoad {
			best, bestLoad = i, load
		}
		i++
	}

	if best < 0 || (bestLoad > 0 && p.size < p.maxSize) {
		return nil
	}

	res := p.idle[best]
	p.dropIdleLocked(best)
	return res
}

func (p *channelPool) dropIdleLocked(i int) {
	last := len(p.idle) - 1
	p.idle[i] = p.idle[last]
	p.idle[last] = nil
	p.idle = p.idle[:last]
}

func (p *channelPool) create(ctx context.Context) (Resource, error) {
	conn, err := p.constructor(ctx)
	if err != nil {
		p.mu.Lock()
		p.size--
		p.notify()
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, err
	}
	p.stats.recordCreate()

	now := coarsetime.Now()
	return &channelResource{conn: conn, pool: p, created: now, lastUsed: now}, nil
}

// notify wakes a waiter without blocking. A pending signal is enough: the woken waiter
// passes it on while idle connections remain.
func (p *channelPool) notify() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *channelPool) put(res *channelResource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		res.conn.Close()
		return
	}

	if res.conn.IsClosed() {
		res.conn.Close()
		p.size--
		p.stats.recordDestroy()
		p.notify()
		return
	}

	p.idle = append(p.idle, res)
	p.stats.recordRelease()
	p.notify()
}

func (p *channelPool) remove() {
	p.mu.Lock()
	p.size--
	p.notify()
	p.mu.Unlock()
	p.stats.recordDestroy()
}

func (p *channelPool) AcquireAllIdle() []Resource {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Resource, 0, len(p.idle))
	for _, res := range p.idle {
		p.stats.recordAcquireFromIdle()
		out = append(out, res)
	}
	clear(p.idle)
	p.idle = p.idle[:0]
	return out
}

func (p *channelPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	close(p.done)
	p.mu.Unlock()

	for _, res := range idle {
		res.conn.Close()
	}
}

func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
