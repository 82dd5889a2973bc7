// Package chunk decides how large a single streamed read should be.
//
// The advisor trades memory for I/O round trips: more headroom and fewer
// concurrent streams mean bigger chunks, but the result is always clamped
// to [MinSize, MaxSize] so a misbehaving stats provider can never produce
// a pathological value.
package chunk

import (
	"log/slog"

	"github.com/mbergen/convoy/internal/memstat"
)

const (
	// MinSize and MaxSize bound every advised chunk, whatever the inputs.
	MinSize = 1 * 1024 * 1024
	MaxSize = 64 * 1024 * 1024

	// DefaultSize is used when memory statistics are unavailable.
	DefaultSize = 4 * 1024 * 1024

	mib = 1024 * 1024

	// Floors for very large files: bigger chunks cost memory but cut the
	// number of round trips on multi-gigabyte objects.
	hugeFileSize  = 1 * 1024 * 1024 * 1024
	hugeFileFloor = 16 * 1024 * 1024
	bigFileSize   = 100 * 1024 * 1024
	bigFileFloor  = 4 * 1024 * 1024
)

// Advisor computes chunk sizes from live memory statistics.
// The zero value is not usable; construct with NewAdvisor.
type Advisor struct {
	provider memstat.Provider
}

// NewAdvisor returns an Advisor reading from the given provider.
// A nil provider means live system statistics.
func NewAdvisor(p memstat.Provider) *Advisor {
	if p == nil {
		p = memstat.System{}
	}
	return &Advisor{provider: p}
}

// Advise returns the chunk size in bytes for an operation running the given
// number of concurrent streams. It never fails: if memory statistics cannot
// be read it returns DefaultSize.
//
// Sizes are recomputed per call on purpose — available memory drifts over
// the lifetime of a long run.
func (a *Advisor) Advise(streams int) int64 {
	if streams < 1 {
		streams = 1
	}

	info, err := a.provider.Stats()
	if err != nil {
		slog.Warn("memory stats unavailable, using default chunk size",
			"default", int64(DefaultSize), "error", err)
		return DefaultSize
	}

	usable := info.Available
	// Near-zero headroom makes the advisor unstable; anchor on a slice of
	// total memory instead.
	if usable < info.Total/10 {
		usable = info.Total / 10
	}

	// Reserve 20% for everything that is not a transfer buffer.
	usable = usable * 8 / 10

	perStream := usable / uint64(streams)

	// A quarter of the stream budget leaves room for buffering and
	// compression overhead alongside the chunk itself.
	size := int64(perStream / 4)

	// Whole megabytes read better in logs and align with storage APIs.
	size = size / mib * mib

	return clamp(size, MinSize, MaxSize)
}

// AdviseForFile is Advise with a raised floor for large files.
// Files of 1 GiB and up get at least 16 MiB chunks; files of 100 MiB and up
// get at least 4 MiB.
func (a *Advisor) AdviseForFile(fileSize int64, streams int) int64 {
	size := a.Advise(streams)

	switch {
	case fileSize >= hugeFileSize:
		return clamp(size, hugeFileFloor, MaxSize)
	case fileSize >= bigFileSize:
		return clamp(size, bigFileFloor, MaxSize)
	default:
		return size
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
