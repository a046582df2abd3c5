package muxcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/muxcache/internal/testutils"
	"github.com/pior/muxcache/protocol"
)

func mockConstructor(ctx context.Context) (*Connection, error) {
	return NewConnection(testutils.NewConnectionMock(testutils.Echo).Conn()), nil
}

var poolFactories = map[string]PoolFactory{
	"puddle":  NewPuddlePool,
	"channel": NewChannelPool,
}

func TestPool_AcquireRelease(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(mockConstructor, 2)
			require.NoError(t, err)
			defer pool.Close()

			stats := pool.Stats()
			assert.Equal(t, int32(0), stats.TotalConns)
			assert.Equal(t, uint64(0), stats.AcquireCount)

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			require.NotNil(t, res.Value())

			stats = pool.Stats()
			assert.Equal(t, int32(1), stats.TotalConns)
			assert.Equal(t, int32(1), stats.ActiveConns)
			assert.Equal(t, uint64(1), stats.CreatedConns)

			conn := res.Value()
			res.Release()

			stats = pool.Stats()
			assert.Equal(t, int32(1), stats.IdleConns)
			assert.Equal(t, int32(0), stats.ActiveConns)

			res, err = pool.Acquire(context.Background())
			require.NoError(t, err)
			assert.Same(t, conn, res.Value(), "idle connection reused")
			assert.Equal(t, uint64(1), pool.Stats().CreatedConns)
			res.Release()
		})
	}
}

func TestPool_Destroy(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(mockConstructor, 2)
			require.NoError(t, err)
			defer pool.Close()

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			conn := res.Value()

			res.Destroy()

			require.Eventually(t, func() bool { return pool.Stats().DestroyedConns == 1 }, time.Second, time.Millisecond)
			assert.Equal(t, int32(0), pool.Stats().TotalConns)
			assert.True(t, conn.IsClosed())
		})
	}
}

func TestPool_WaitsWhenFull(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(mockConstructor, 1)
			require.NoError(t, err)
			defer pool.Close()

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = pool.Acquire(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			go func() {
				time.Sleep(10 * time.Millisecond)
				res.Release()
			}()

			res2, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			res2.Release()

			assert.GreaterOrEqual(t, pool.Stats().AcquireWaitCount, uint64(1))
		})
	}
}

func TestPool_ConstructorError(t *testing.T) {
	boom := errors.New("dial failed")

	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(func(context.Context) (*Connection, error) { return nil, boom }, 1)
			require.NoError(t, err)
			defer pool.Close()

			_, err = pool.Acquire(context.Background())
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestPool_AcquireAfterClose(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(mockConstructor, 1)
			require.NoError(t, err)
			pool.Close()

			_, err = pool.Acquire(context.Background())
			assert.ErrorIs(t, err, ErrPoolClosed)
		})
	}
}

func TestPool_AcquireAllIdle(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(mockConstructor, 3)
			require.NoError(t, err)
			defer pool.Close()

			var held []Resource
			for range 3 {
				res, err := pool.Acquire(context.Background())
				require.NoError(t, err)
				held = append(held, res)
			}
			for _, res := range held {
				res.Release()
			}

			idle := pool.AcquireAllIdle()
			assert.Len(t, idle, 3)
			for _, res := range idle {
				res.ReleaseUnused()
			}
			assert.Equal(t, int32(3), pool.Stats().IdleConns)
		})
	}
}

func TestChannelPool_BalancesByInFlight(t *testing.T) {
	silent := func(protocol.Frame) (protocol.Message, bool) { return protocol.Message{}, false }
	constructor := func(context.Context) (*Connection, error) {
		return NewConnection(testutils.NewConnectionMock(silent).Conn()), nil
	}

	pool, err := NewChannelPool(constructor, 2)
	require.NoError(t, err)
	defer pool.Close()
	ctx := context.Background()

	res, err := pool.Acquire(ctx)
	require.NoError(t, err)
	busy := res.Value()
	busy.Call(protocol.NewRequest(protocol.OpGet, []byte("k"), nil))
	require.Equal(t, 1, busy.InFlight())
	res.Release()

	// The only idle connection has a pending response and the pool has room.
	res, err = pool.Acquire(ctx)
	require.NoError(t, err)
	quiet := res.Value()
	assert.NotSame(t, busy, quiet)
	assert.Equal(t, uint64(2), pool.Stats().CreatedConns)
	res.Release()

	res, err = pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, quiet, res.Value(), "the quiet connection is preferred")

	// Full: the busy connection is shared.
	shared, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, busy, shared.Value())
	assert.Equal(t, uint64(2), pool.Stats().CreatedConns)

	shared.Release()
	res.Release()
}

func TestChannelPool_DropsBrokenIdleConnections(t *testing.T) {
	var mocks []*testutils.ConnectionMock
	constructor := func(context.Context) (*Connection, error) {
		mock := testutils.NewConnectionMock(testutils.Echo)
		mocks = append(mocks, mock)
		return NewConnection(mock.Conn()), nil
	}

	pool, err := NewChannelPool(constructor, 1)
	require.NoError(t, err)
	defer pool.Close()

	res, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	broken := res.Value()
	res.Release()

	require.NoError(t, mocks[0].Close())
	require.Eventually(t, broken.IsClosed, time.Second, time.Millisecond)

	res, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, broken, res.Value())
	res.Release()

	stats := pool.Stats()
	assert.Equal(t, uint64(2), stats.CreatedConns)
	assert.Equal(t, uint64(1), stats.DestroyedConns)
	assert.Equal(t, int32(1), stats.TotalConns)
}

func TestChannelPool_WakesEveryWaiter(t *testing.T) {
	pool, err := NewChannelPool(mockConstructor, 2)
	require.NoError(t, err)
	defer pool.Close()
	ctx := context.Background()

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	second, err := pool.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan Resource, 2)
	for range 2 {
		go func() {
			res, err := pool.Acquire(ctx)
			if err == nil {
				acquired <- res
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)

	first.Release()
	second.Release()

	for range 2 {
		select {
		case res := <-acquired:
			res.Release()
		case <-time.After(time.Second):
			t.Fatal("a waiter was not woken")
		}
	}
}
