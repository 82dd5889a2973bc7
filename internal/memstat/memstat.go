// Package memstat reports system memory headroom for chunk sizing.
//
// Platform specifics live behind the Provider interface so the chunk
// advisor never branches on the operating system. The default provider
// is backed by gopsutil; callers inject stubs in tests.
package memstat

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// Info is a point-in-time view of system memory.
type Info struct {
	Available uint64
	Total     uint64
}

// Provider returns current memory statistics. Failure must be treated as
// non-fatal by callers; the chunk advisor falls back to a fixed default.
type Provider interface {
	Stats() (Info, error)
}

// System is the default Provider, reading live statistics from the OS.
type System struct{}

// Stats returns available and total physical memory.
func (System) Stats() (Info, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Info{}, fmt.Errorf("read memory stats: %w", err)
	}
	return Info{Available: vm.Available, Total: vm.Total}, nil
}

// Fixed is a Provider that always reports the same numbers. Used in tests
// and when the caller wants deterministic sizing.
type Fixed struct {
	Info Info
	Err  error
}

func (f Fixed) Stats() (Info, error) {
	if f.Err != nil {
		return Info{}, f.Err
	}
	return f.Info, nil
}
