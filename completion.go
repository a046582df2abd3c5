package muxcache

import (
	"context"
	"errors"
	"sync"

	"github.com/pior/muxcache/protocol"
)

var (
	ErrBrokenCompletion = errors.New("muxcache: completion dropped without a response")
	ErrEngineInternal   = errors.New("muxcache: internal engine error")
)

type result struct {
	msg protocol.Message
	err error
}

// outcome is shared by a Completion and its Future. res is written once, before done
// is closed.
type outcome struct {
	once sync.Once
	done chan struct{}
	res  result
}

// Completion is the single-use resolving side of a Future. The first call to Resolve or
// Break wins; later calls are ignored.
type Completion struct {
	o *outcome
}

// Future is the awaiting side of a Completion. Any number of goroutines may wait on it.
type Future struct {
	o *outcome
}

// NewCompletion returns a linked Completion and Future pair.
func NewCompletion() (*Completion, *Future) {
	o := &outcome{done: make(chan struct{})}
	return &Completion{o: o}, &Future{o: o}
}

// Resolved returns a Future that is already resolved with msg.
func Resolved(msg protocol.Message) *Future {
	c, f := NewCompletion()
	c.Resolve(msg)
	return f
}

// Failed returns a Future that is already resolved with err.
func Failed(err error) *Future {
	c, f := NewCompletion()
	c.Fail(err)
	return f
}

// Resolve delivers msg. It reports whether this call resolved the completion.
func (c *Completion) Resolve(msg protocol.Message) bool {
	return c.deliver(result{msg: msg})
}

// Fail delivers err.
func (c *Completion) Fail(err error) bool {
	return c.deliver(result{err: err})
}

// Break fails the completion with ErrBrokenCompletion if nothing was delivered yet.
// Deferring Break guarantees that the awaiting side is always released.
func (c *Completion) Break() bool {
	return c.deliver(result{err: ErrBrokenCompletion})
}

func (c *Completion) deliver(r result) bool {
	delivered := false
	c.o.once.Do(func() {
		c.o.res = r
		close(c.o.done)
		delivered = true
	})
	return delivered
}

// Wait blocks until the future resolves or ctx is done. Every waiter sees the same
// value, and a resolved value can be read any number of times.
func (f *Future) Wait(ctx context.Context) (protocol.Message, error) {
	select {
	case <-f.o.done:
		return f.o.res.msg, f.o.res.err
	default:
	}

	select {
	case <-f.o.done:
		return f.o.res.msg, f.o.res.err
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Done returns a channel closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.o.done
}

// Then returns a Future resolved with fn applied to this future's outcome, once it is
// available. fn runs on its own goroutine.
func (f *Future) Then(fn func(protocol.Message, error) (protocol.Message, error)) *Future {
	c, next := NewCompletion()
	go func() {
		defer c.Break()

		msg, err := fn(f.Wait(context.Background()))
		if err != nil {
			c.Fail(err)
			return
		}
		c.Resolve(msg)
	}()
	return next
}
