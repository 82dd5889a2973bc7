// Package progress tracks per-item byte counts during a streaming operation.
package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker counts bytes moved for a single transfer or archive entry.
// One tracker belongs to one item; cross-item accounting lives in the
// stats collector. Advance is safe for concurrent use in case a single
// item is ever split across parallel sub-streams.
type Tracker struct {
	name      string
	total     int64
	moved     atomic.Int64
	startTime time.Time
	finish    sync.Once
	onFinish  func(moved int64, elapsed time.Duration)
}

// NewTracker creates a tracker for an item of the given total size.
func NewTracker(name string, total int64) *Tracker {
	return &Tracker{
		name:      name,
		total:     total,
		startTime: time.Now(),
	}
}

// OnFinish registers a callback invoked exactly once when Finish is called.
// Must be set before the tracker is shared.
func (t *Tracker) OnFinish(fn func(moved int64, elapsed time.Duration)) {
	t.onFinish = fn
}

// Advance records n more bytes moved.
func (t *Tracker) Advance(n int64) {
	t.moved.Add(n)
}

// Moved returns the number of bytes recorded so far.
func (t *Tracker) Moved() int64 {
	return t.moved.Load()
}

// Total returns the expected byte count.
func (t *Tracker) Total() int64 {
	return t.total
}

// Finish releases the tracker. Idempotent, and valid even if Advance was
// never called (zero-byte sources).
func (t *Tracker) Finish() {
	t.finish.Do(func() {
		elapsed := time.Since(t.startTime)
		if t.onFinish != nil {
			t.onFinish(t.moved.Load(), elapsed)
		}
		slog.Debug("item finished",
			"name", t.name,
			"bytes", t.moved.Load(),
			"total", t.total,
			"elapsed", elapsed)
	})
}
