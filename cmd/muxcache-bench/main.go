// Command muxcache-bench drives a workload against muxcache servers and reports
// throughput and latency.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/muxcache"
)

type OperationType string

const (
	CacheHit     OperationType = "cache-hit"
	DynamicValue OperationType = "dynamic-value"
	CacheMiss    OperationType = "cache-miss"
	Delete       OperationType = "delete"
	All          OperationType = "all"
)

var operations = []OperationType{CacheHit, DynamicValue, CacheMiss, Delete}

type BenchmarkResult struct {
	Operation    OperationType
	Duration     time.Duration
	TotalOps     int64
	Successes    int64
	Failures     int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	Correctness  bool
	ErrorMessage string
}

func main() {
	var (
		operation   = flag.String("operation", "all", "Operation type: cache-hit, dynamic-value, cache-miss, delete, or all")
		duration    = flag.Duration("duration", 5*time.Second, "Duration to run benchmarks")
		concurrency = flag.Int("concurrency", 16, "Number of concurrent workers")
		maxConns    = flag.Int("max-conns", muxcache.DefaultMaxConns, "Connections per server")
		servers     = flag.String("servers", "localhost"+muxcache.DefaultAddr, "Comma-separated list of muxcache servers")
	)
	flag.Parse()

	fmt.Printf("muxcache Benchmark Tool\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Operation: %s\n", *operation)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Servers: %s\n", *servers)
	fmt.Println()

	client, err := muxcache.NewClient(
		muxcache.NewStaticServers(strings.Split(*servers, ",")...),
		muxcache.Config{MaxSize: int32(*maxConns)},
	)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	fmt.Print("Testing connection...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_, err = client.ServerStats(ctx)
	cancel()
	if err != nil {
		fmt.Printf(" failed: %v\n", err)
		fmt.Printf("Make sure muxcache-server is running on %s\n", *servers)
		os.Exit(1)
	}
	fmt.Println(" success!")

	ops := operations
	if OperationType(*operation) != All {
		ops = []OperationType{OperationType(*operation)}
	}

	for _, op := range ops {
		fmt.Printf("\n--- Running %s benchmark ---\n", op)
		printResult(os.Stdout, runSingleOperation(client, op, *duration, *concurrency))
	}

	reports, err := client.ServerStats(context.Background())
	if err == nil {
		fmt.Println("Server reports:")
		for addr, report := range reports {
			fmt.Printf("  %s: %s\n", addr, report)
		}
	}
}

// opFunc performs one unit of work for a worker. n is the worker's iteration count.
type opFunc func(ctx context.Context, worker, n int) (ops int, err error)

// errWrongAnswer marks a response that does not match what the workload stored.
var errWrongAnswer = errors.New("wrong answer")

func runSingleOperation(client *muxcache.Client, operation OperationType, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()

	var op opFunc
	switch operation {
	case CacheHit:
		key := "cache-hit-key"
		value := []byte("cache-hit-value")
		if err := client.Set(ctx, muxcache.Item{Key: key, Value: value}); err != nil {
			return &BenchmarkResult{Operation: operation, ErrorMessage: fmt.Sprintf("Failed to set initial value: %v", err)}
		}
		op = func(ctx context.Context, _, _ int) (int, error) {
			item, err := client.Get(ctx, key)
			if err != nil {
				return 1, err
			}
			if !item.Found || string(item.Value) != string(value) {
				return 1, fmt.Errorf("%w: value mismatch", errWrongAnswer)
			}
			return 1, nil
		}

	case DynamicValue:
		op = func(ctx context.Context, worker, n int) (int, error) {
			key := fmt.Sprintf("dynamic-key-%d-%d", worker, n)
			value := []byte(fmt.Sprintf("dynamic-value-%d-%d", worker, n))
			if err := client.Set(ctx, muxcache.Item{Key: key, Value: value}); err != nil {
				return 1, err
			}
			item, err := client.Get(ctx, key)
			if err != nil {
				return 2, err
			}
			if string(item.Value) != string(value) {
				return 2, fmt.Errorf("%w: value mismatch", errWrongAnswer)
			}
			return 2, nil
		}

	case CacheMiss:
		op = func(ctx context.Context, worker, n int) (int, error) {
			item, err := client.Get(ctx, fmt.Sprintf("nonexistent-key-%d-%d", worker, n))
			if err != nil {
				return 1, err
			}
			if item.Found {
				return 1, fmt.Errorf("%w: expected cache miss but got value", errWrongAnswer)
			}
			return 1, nil
		}

	case Delete:
		op = func(ctx context.Context, worker, n int) (int, error) {
			key := fmt.Sprintf("delete-key-%d-%d", worker, n)
			if err := client.Set(ctx, muxcache.Item{Key: key, Value: []byte(key)}); err != nil {
				return 1, err
			}
			return 2, client.Delete(ctx, key)
		}

	default:
		return &BenchmarkResult{
			Operation:    operation,
			ErrorMessage: fmt.Sprintf("Unknown operation: %s", operation),
		}
	}

	return runWorkload(ctx, operation, op, duration, concurrency)
}

func runWorkload(ctx context.Context, operation OperationType, op opFunc, duration time.Duration, concurrency int) *BenchmarkResult {
	result := &BenchmarkResult{Operation: operation, Correctness: true}

	var totalOps, successes, failures, totalLatency atomic.Int64
	var mismatch sync.Once

	startTime := time.Now()
	var wg sync.WaitGroup

	for worker := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for n := 0; time.Since(startTime) < duration; n++ {
				opStart := time.Now()
				count, err := op(ctx, worker, n)
				latency := time.Since(opStart)

				totalOps.Add(int64(count))
				totalLatency.Add(int64(latency))

				switch {
				case errors.Is(err, errWrongAnswer):
					failures.Add(int64(count))
					mismatch.Do(func() {
						result.Correctness = false
						result.ErrorMessage = err.Error()
					})
				case err != nil:
					failures.Add(int64(count))
				default:
					successes.Add(int64(count))
				}
			}
		}()
	}

	wg.Wait()

	result.Duration = time.Since(startTime)
	result.TotalOps = totalOps.Load()
	result.Successes = successes.Load()
	result.Failures = failures.Load()

	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(totalLatency.Load() / result.TotalOps)
		result.OpsPerSecond = float64(result.TotalOps) / result.Duration.Seconds()
	}

	return result
}

func printResult(w io.Writer, result *BenchmarkResult) {
	fmt.Fprintf(w, "Operation: %s\n", result.Operation)
	fmt.Fprintf(w, "Duration: %v\n", result.Duration)
	fmt.Fprintf(w, "Total Operations: %d\n", result.TotalOps)
	fmt.Fprintf(w, "Successes: %d\n", result.Successes)
	fmt.Fprintf(w, "Failures: %d\n", result.Failures)
	if result.TotalOps > 0 {
		fmt.Fprintf(w, "Success Rate: %.2f%%\n", float64(result.Successes)/float64(result.TotalOps)*100)
		fmt.Fprintf(w, "Ops/sec: %.2f\n", result.OpsPerSecond)
		fmt.Fprintf(w, "Avg Latency: %v\n", result.AvgLatency)
	}
	fmt.Fprintf(w, "Correctness: %t\n", result.Correctness)
	if result.ErrorMessage != "" {
		fmt.Fprintf(w, "Error: %s\n", result.ErrorMessage)
	}
	fmt.Fprintln(w)
}
