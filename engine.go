package muxcache

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pior/muxcache/protocol"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Workers is the maximum number of operations executing at once.
	// Zero means runtime.GOMAXPROCS(0). Work beyond the limit queues.
	Workers int

	// Shards is the number of independently locked store partitions.
	// Zero means DefaultShards.
	Shards int

	// Logger receives recovered operation failures. If nil, slog.Default() is used.
	Logger *slog.Logger

	// for testing purposes only: runs under the write lock of every Set
	beforeSet func(key []byte)
}

// Engine owns the key/entry store and executes operations on a bounded worker pool.
// A single Engine is shared by every connection of a server.
type Engine struct {
	store     *store
	sem       *semaphore.Weighted
	workers   int
	logger    *slog.Logger
	inFlight  sync.WaitGroup
	beforeSet func(key []byte)
}

// NewEngine returns an empty engine.
func NewEngine(config EngineConfig) *Engine {
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:     newStore(config.Shards),
		sem:       semaphore.NewWeighted(int64(workers)),
		workers:   workers,
		logger:    logger,
		beforeSet: config.beforeSet,
	}
}

// Workers returns the size of the worker pool.
func (e *Engine) Workers() int {
	return e.workers
}

// Len returns the number of stored keys.
func (e *Engine) Len() int {
	return e.store.len()
}

// Process takes ownership of msg and c, and resolves c exactly once with the response.
// It returns immediately; the operation runs once a worker slot is free. Dispatched
// operations are never cancelled.
func (e *Engine) Process(msg protocol.Message, c *Completion) {
	e.inFlight.Add(1)
	go func() {
		defer e.inFlight.Done()
		defer c.Break()

		// Acquire with a background context cannot fail.
		_ = e.sem.Acquire(context.Background(), 1)
		defer e.sem.Release(1)

		e.execute(msg, c)
	}()
}

// Wait blocks until every dispatched operation has resolved.
func (e *Engine) Wait() {
	e.inFlight.Wait()
}

func (e *Engine) execute(msg protocol.Message, c *Completion) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrEngineInternal, r)
			e.logger.Error("muxcache: operation aborted", "op", msg.Op.String(), "key", string(msg.Key), "error", err)
			c.Resolve(errorResponse(msg.Op, err))
		}
	}()

	switch msg.Op {
	case protocol.OpSet:
		var stored entry
		if msg.HasPayload() {
			stored = entry{typeID: msg.Payload.TypeID, data: msg.Payload.Data}
		}

		var hook func()
		if e.beforeSet != nil {
			hook = func() { e.beforeSet(msg.Key) }
		}
		e.store.set(msg.Key, stored, hook)

		c.Resolve(protocol.NewResponse(protocol.OpSet, protocol.CodeOK, nil))

	case protocol.OpGet:
		stored, ok := e.store.get(msg.Key)
		if !ok {
			// A miss echoes the requested key and carries no payload.
			c.Resolve(protocol.NewResponse(protocol.OpGet, protocol.CodeOK, nil).WithKey(msg.Key))
			return
		}
		var payload *protocol.Payload
		if len(stored.data) > 0 {
			payload = protocol.NewPayload(stored.typeID, stored.data)
		}
		c.Resolve(protocol.NewResponse(protocol.OpGet, protocol.CodeOK, payload))

	case protocol.OpDel:
		// Delete is not implemented by the store: the request is echoed unchanged.
		c.Resolve(msg)

	case protocol.OpStats:
		// Stats are aggregated by StatsService.
		c.Resolve(msg)

	default:
		c.Resolve(errorResponse(msg.Op, fmt.Errorf("unknown op %s", msg.Op)))
	}
}

func errorResponse(op protocol.Op, err error) protocol.Message {
	return protocol.NewResponse(op, protocol.CodeError, protocol.NewPayload(0, []byte(err.Error())))
}
