// Package coarsetime is a cheap clock for hot paths that tolerate 50ms of error,
// such as pool idle bookkeeping.
package coarsetime

import (
	"sync"
	"sync/atomic"
	"time"
)

const resolution = 50 * time.Millisecond

var (
	current atomic.Int64 // unix nanoseconds
	start   sync.Once
)

func run() {
	current.Store(time.Now().UnixNano())

	go func() {
		ticker := time.NewTicker(resolution)
		for t := range ticker.C {
			current.Store(t.UnixNano())
		}
	}()
}

// Now returns the time of the last tick. The ticker starts on first use.
func Now() time.Time {
	start.Do(run)
	return time.Unix(0, current.Load())
}
