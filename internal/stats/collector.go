// Package stats accumulates run-wide transfer and archive counters.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector tracks operation statistics using lock-free atomic counters.
// One collector spans a whole run; per-item byte progress lives in
// progress.Tracker.
type Collector struct {
	itemsQueued      atomic.Int64
	itemsSent        atomic.Int64
	itemsFailed      atomic.Int64
	bytesSent        atomic.Int64
	retries          atomic.Int64
	itemsValidated   atomic.Int64
	validationFailed atomic.Int64
	entriesArchived  atomic.Int64
	bytesArchived    atomic.Int64
	startTime        time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) AddItemsQueued(n int64)      { c.itemsQueued.Add(n) }
func (c *Collector) AddItemsSent(n int64)        { c.itemsSent.Add(n) }
func (c *Collector) AddItemsFailed(n int64)      { c.itemsFailed.Add(n) }
func (c *Collector) AddBytesSent(n int64)        { c.bytesSent.Add(n) }
func (c *Collector) AddRetries(n int64)          { c.retries.Add(n) }
func (c *Collector) AddItemsValidated(n int64)   { c.itemsValidated.Add(n) }
func (c *Collector) AddValidationFailed(n int64) { c.validationFailed.Add(n) }
func (c *Collector) AddEntriesArchived(n int64)  { c.entriesArchived.Add(n) }
func (c *Collector) AddBytesArchived(n int64)    { c.bytesArchived.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	ItemsQueued      int64
	ItemsSent        int64
	ItemsFailed      int64
	BytesSent        int64
	Retries          int64
	ItemsValidated   int64
	ValidationFailed int64
	EntriesArchived  int64
	BytesArchived    int64
	Elapsed          time.Duration
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		ItemsQueued:      c.itemsQueued.Load(),
		ItemsSent:        c.itemsSent.Load(),
		ItemsFailed:      c.itemsFailed.Load(),
		BytesSent:        c.bytesSent.Load(),
		Retries:          c.retries.Load(),
		ItemsValidated:   c.itemsValidated.Load(),
		ValidationFailed: c.validationFailed.Load(),
		EntriesArchived:  c.entriesArchived.Load(),
		BytesArchived:    c.bytesArchived.Load(),
		Elapsed:          c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	if c.startTime.IsZero() {
		return 0
	}
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"queued=%d sent=%d failed=%d bytes=%s retries=%d validated=%d",
		s.ItemsQueued, s.ItemsSent, s.ItemsFailed,
		FormatBytes(s.BytesSent), s.Retries, s.ItemsValidated,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
