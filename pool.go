package muxcache

import (
	"context"
	"errors"
	"time"
)

var ErrPoolClosed = errors.New("muxcache: pool closed")

// Pool holds the connections to a single server.
//
// A connection is acquired only long enough to send a request: responses are awaited
// after the resource is released, so one pooled connection carries many requests at once.
type Pool interface {
	Acquire(ctx context.Context) (Resource, error)
	AcquireAllIdle() []Resource
	Close()
	Stats() PoolStats
}

// Resource is a pooled connection.
type Resource interface {
	Value() *Connection
	Release()
	ReleaseUnused()
	Destroy()
	CreationTime() time.Time
	IdleDuration() time.Duration
}

// PoolFactory creates the pool of one server. constructor dials a new connection.
type PoolFactory func(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error)
