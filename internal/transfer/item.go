// Package transfer schedules and performs retried, chunked uploads.
package transfer

import (
	"time"

	"github.com/mbergen/convoy/internal/integrity"
)

// Item is one source file bound for one destination. Immutable once
// enqueued: Size is read at classification time and is never re-statted
// mid-transfer — a size change during the run surfaces as a validation
// failure instead.
type Item struct {
	Source      string
	Destination string
	Size        int64
}

// ErrorKind classifies why an item failed.
type ErrorKind int

const (
	// ErrNone means the item succeeded.
	ErrNone ErrorKind = iota
	// ErrNotFound means the source vanished before dispatch; not retried.
	ErrNotFound
	// ErrTransportExhausted means every transfer attempt failed.
	ErrTransportExhausted
	// ErrValidationFailed means the bytes were sent but the destination's
	// view of them is not trusted.
	ErrValidationFailed
	// ErrLocalRead means the source exists but could not be statted or
	// read; not a vanished source, and not retried.
	ErrLocalRead
)

var errorKindNames = [...]string{
	ErrNone:               "none",
	ErrNotFound:           "not-found",
	ErrTransportExhausted: "transport-exhausted",
	ErrValidationFailed:   "validation-failed",
	ErrLocalRead:          "local-read",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return "unknown"
}

// Outcome is produced exactly once per Item. Outcomes are keyed by item
// identity; callers must not assume any ordering of the returned set.
type Outcome struct {
	Item       Item
	Succeeded  bool
	Attempts   int
	ErrorKind  ErrorKind
	Validation integrity.Strength
	Err        error
	Elapsed    time.Duration
}
