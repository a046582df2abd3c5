package muxcache

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Stats accumulates the request count and latency of a server. One instance is shared
// by every connection's pipeline. All methods are safe for concurrent use.
type Stats struct {
	requests      atomic.Uint64
	latencyMicros atomic.Uint64
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

// Record counts one completed request that took d.
func (s *Stats) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.requests.Add(1)
	s.latencyMicros.Add(uint64(d.Microseconds()))
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() ServiceStats {
	return ServiceStats{
		Requests:           s.requests.Load(),
		TotalLatencyMicros: s.latencyMicros.Load(),
	}
}

// ServiceStats is a point-in-time copy of Stats.
type ServiceStats struct {
	Requests           uint64 // Completed non-stats requests
	TotalLatencyMicros uint64 // Sum of request latencies, submission to resolution
}

// AverageLatencyMicros returns the mean request latency, or zero before any request.
func (s ServiceStats) AverageLatencyMicros() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.TotalLatencyMicros) / float64(s.Requests)
}

// Render formats the counters for a Stats response. The key count is only included
// when keys >= 0.
//
//	keys: 12 requests: 340 avg_latency_us: 18.25
func (s ServiceStats) Render(keys int) string {
	var sb strings.Builder
	if keys >= 0 {
		sb.WriteString("keys: ")
		sb.WriteString(strconv.Itoa(keys))
		sb.WriteString(" ")
	}
	fmt.Fprintf(&sb, "requests: %d avg_latency_us: %.2f", s.Requests, s.AverageLatencyMicros())
	return sb.String()
}

// PoolStats contains statistics about a client connection pool.
// All fields are safe for concurrent access.
//
// Struct is optimized to fit within a single cache line (64 bytes).
// Fields are ordered largest to smallest for optimal memory layout.
type PoolStats struct {
	// Lifetime counters (uint64 - 8 bytes each)
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	// Current state gauges (int32 - 4 bytes each)
	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
	_           int32 // Padding to align to 64 bytes
}

// ClientStats contains statistics about client operations.
// All fields are safe for concurrent access.
type ClientStats struct {
	Gets    uint64 // Total Get operations
	Sets    uint64 // Total Set operations
	Deletes uint64 // Total Delete operations
	GetHits uint64 // Get operations that found the key
	Errors  uint64 // Total errors across all operations
}

// poolStatsCollector provides internal methods for updating pool stats.
type poolStatsCollector struct {
	stats PoolStats
}

func (c *poolStatsCollector) recordAcquire() {
	atomic.AddUint64(&c.stats.AcquireCount, 1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	atomic.AddUint64(&c.stats.AcquireWaitCount, 1)
	atomic.AddUint64(&c.stats.AcquireWaitTimeNs, uint64(duration.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

func (c *poolStatsCollector) recordAcquireError() {
	atomic.AddUint64(&c.stats.AcquireErrors, 1)
}

func (c *poolStatsCollector) recordAcquireFromIdle() {
	atomic.AddInt32(&c.stats.IdleConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordRelease() {
	atomic.AddInt32(&c.stats.IdleConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		TotalConns:        atomic.LoadInt32(&c.stats.TotalConns),
		IdleConns:         atomic.LoadInt32(&c.stats.IdleConns),
		ActiveConns:       atomic.LoadInt32(&c.stats.ActiveConns),
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedConns:      atomic.LoadUint64(&c.stats.CreatedConns),
		DestroyedConns:    atomic.LoadUint64(&c.stats.DestroyedConns),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
	}
}

// clientStatsCollector provides internal methods for updating client stats.
type clientStatsCollector struct {
	stats ClientStats
}

func (c *clientStatsCollector) recordGet(found bool) {
	atomic.AddUint64(&c.stats.Gets, 1)
	if found {
		atomic.AddUint64(&c.stats.GetHits, 1)
	}
}

func (c *clientStatsCollector) recordSet() {
	atomic.AddUint64(&c.stats.Sets, 1)
}

func (c *clientStatsCollector) recordDelete() {
	atomic.AddUint64(&c.stats.Deletes, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:    atomic.LoadUint64(&c.stats.Gets),
		Sets:    atomic.LoadUint64(&c.stats.Sets),
		Deletes: atomic.LoadUint64(&c.stats.Deletes),
		GetHits: atomic.LoadUint64(&c.stats.GetHits),
		Errors:  atomic.LoadUint64(&c.stats.Errors),
	}
}
