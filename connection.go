package muxcache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pior/muxcache/protocol"
)

var ErrConnectionClosed = errors.New("muxcache: connection closed")

// Connection is a client connection that multiplexes concurrent requests.
// Each request gets a fresh request id; responses are matched by id in any order.
type Connection struct {
	conn net.Conn

	writeMu sync.Mutex
	writer  *protocol.Writer

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*Completion
	err     error // set once closed

	done chan struct{}
}

// NewConnection starts serving responses from conn.
func NewConnection(conn net.Conn) *Connection {
	c := &Connection{
		conn:    conn,
		writer:  protocol.NewWriter(conn),
		pending: make(map[uint64]*Completion),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends req and returns a Future for its response. The Future fails with an error
// wrapping ErrConnectionClosed if the connection breaks before the response arrives.
func (c *Connection) Call(req protocol.Message) *Future {
	_, f := c.call(req)
	return f
}

// Send sends req and waits for its response. If ctx is done first, the late response
// is discarded when it arrives.
func (c *Connection) Send(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	id, f := c.call(req)

	resp, err := f.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		c.forget(id)
	}
	return resp, err
}

func (c *Connection) call(req protocol.Message) (uint64, *Future) {
	comp, f := NewCompletion()
	id := c.nextID.Add(1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		comp.Fail(err)
		return id, f
	}
	c.pending[id] = comp
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.writer.WriteFrame(id, req)
	if err == nil {
		err = c.writer.Flush()
	}
	c.writeMu.Unlock()

	if errors.Is(err, protocol.ErrProtocol) {
		// Rejected before encoding: the stream is intact.
		c.forget(id)
		comp.Fail(err)
		return id, f
	}
	if err != nil {
		c.closeWithError(err)
	}
	return id, f
}

func (c *Connection) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Connection) readLoop() {
	defer close(c.done)

	r := protocol.NewReader(c.conn, 0)
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			c.closeWithError(err)
			return
		}

		c.mu.Lock()
		comp, ok := c.pending[frame.RequestID]
		delete(c.pending, frame.RequestID)
		c.mu.Unlock()

		// Unknown ids belong to requests abandoned by Send.
		if ok {
			comp.Resolve(frame.Message)
		}
	}
}

func (c *Connection) closeWithError(cause error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	if errors.Is(cause, ErrConnectionClosed) {
		c.err = cause
	} else {
		c.err = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}
	pending := c.pending
	c.pending = nil
	err := c.err
	c.mu.Unlock()

	c.conn.Close()
	for _, comp := range pending {
		comp.Fail(err)
	}
}

// InFlight returns the number of requests awaiting a response.
func (c *Connection) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Err returns the error that closed the connection, or nil while it is open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// IsClosed reports whether the connection can no longer send requests.
func (c *Connection) IsClosed() bool {
	return c.Err() != nil
}

// Close closes the connection and fails every pending request.
// It waits for the response reader to stop.
func (c *Connection) Close() error {
	c.closeWithError(ErrConnectionClosed)
	<-c.done
	return nil
}

// Ping checks that the server answers on this connection.
func (c *Connection) Ping(ctx context.Context) error {
	resp, err := c.Send(ctx, protocol.NewRequest(protocol.OpStats, nil, nil))
	if err != nil {
		return err
	}
	if resp.Code == protocol.CodeError {
		return &ServerError{Op: resp.Op, Message: string(resp.Data())}
	}
	return nil
}
