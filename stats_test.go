package muxcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolStatsCollector(t *testing.T) {
	var c poolStatsCollector

	c.recordAcquire()
	c.recordCreate()
	c.recordRelease()
	c.recordAcquire()
	c.recordAcquireFromIdle()
	c.recordAcquireWait(3 * time.Millisecond)
	c.recordDestroy()
	c.recordAcquireError()

	s := c.snapshot()
	assert.Equal(t, uint64(2), s.AcquireCount)
	assert.Equal(t, uint64(1), s.AcquireWaitCount)
	assert.Equal(t, uint64(3*time.Millisecond), s.AcquireWaitTimeNs)
	assert.Equal(t, uint64(1), s.CreatedConns)
	assert.Equal(t, uint64(1), s.DestroyedConns)
	assert.Equal(t, uint64(1), s.AcquireErrors)
	assert.Equal(t, int32(0), s.TotalConns)
	assert.Equal(t, int32(0), s.IdleConns)
	assert.Equal(t, int32(0), s.ActiveConns)
}

func TestClientStatsCollector(t *testing.T) {
	var c clientStatsCollector

	c.recordGet(true)
	c.recordGet(false)
	c.recordSet()
	c.recordDelete()
	c.recordError()

	assert.Equal(t, ClientStats{Gets: 2, GetHits: 1, Sets: 1, Deletes: 1, Errors: 1}, c.snapshot())
}

func TestServiceStats_ZeroAverage(t *testing.T) {
	assert.Equal(t, 0.0, ServiceStats{}.AverageLatencyMicros())
	assert.Equal(t, "keys: 0 requests: 0 avg_latency_us: 0.00", ServiceStats{}.Render(0))
}
