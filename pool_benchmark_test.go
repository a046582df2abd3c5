package muxcache

import (
	"context"
	"net"
	"testing"
)

// idleConstructor returns connections over a pipe nobody reads from. Pool benchmarks
// never send requests, so no mock server is needed.
func idleConstructor(context.Context) (*Connection, error) {
	client, _ := net.Pipe()
	return NewConnection(client), nil
}

func BenchmarkPool_Acquire_Creation(b *testing.B) {
	for name, factory := range poolFactories {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()

			for b.Loop() {
				pool, err := factory(idleConstructor, 1)
				if err != nil {
					b.Fatal(err)
				}

				res, err := pool.Acquire(ctx)
				if err != nil {
					b.Fatal(err)
				}

				res.Destroy()
				pool.Close()
			}
		})
	}
}

// BenchmarkPool_Acquire_FastPath acquires from the idle set.
func BenchmarkPool_Acquire_FastPath(b *testing.B) {
	for name, factory := range poolFactories {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()

			pool, err := factory(idleConstructor, 1)
			if err != nil {
				b.Fatal(err)
			}
			defer pool.Close()

			res, err := pool.Acquire(ctx)
			if err != nil {
				b.Fatal(err)
			}
			res.Release()

			for b.Loop() {
				res, err := pool.Acquire(ctx)
				if err != nil {
					b.Fatal(err)
				}
				res.Release()
			}
		})
	}
}

func BenchmarkPool_Concurrent(b *testing.B) {
	for name, factory := range poolFactories {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()

			pool, err := factory(idleConstructor, 10)
			if err != nil {
				b.Fatal(err)
			}
			defer pool.Close()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					res, err := pool.Acquire(ctx)
					if err != nil {
						b.Error(err)
						return
					}
					res.Release()
				}
			})
		})
	}
}

func BenchmarkPool_AcquireAllIdle(b *testing.B) {
	for name, factory := range poolFactories {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()

			pool, err := factory(idleConstructor, 10)
			if err != nil {
				b.Fatal(err)
			}
			defer pool.Close()

			resources := make([]Resource, 10)
			for i := range resources {
				if resources[i], err = pool.Acquire(ctx); err != nil {
					b.Fatal(err)
				}
			}
			for _, res := range resources {
				res.Release()
			}

			for b.Loop() {
				for _, res := range pool.AcquireAllIdle() {
					res.ReleaseUnused()
				}
			}
		})
	}
}

// BenchmarkPool_HighContention runs many goroutines against a pool of two.
func BenchmarkPool_HighContention(b *testing.B) {
	for name, factory := range poolFactories {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()

			pool, err := factory(idleConstructor, 2)
			if err != nil {
				b.Fatal(err)
			}
			defer pool.Close()

			b.SetParallelism(16)
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					res, err := pool.Acquire(ctx)
					if err != nil {
						b.Error(err)
						return
					}
					res.Release()
				}
			})
		})
	}
}
