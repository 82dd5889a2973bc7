// Package remote adapts backend stores to the transfer engine.
//
// The engine only knows the Store interface: stream bytes to a destination,
// then ask the destination what it received. Everything wire-specific
// (auth, checksum headers, bucket addressing) stays inside the adapters.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Header names understood by artifact repositories for checksum deployment.
const (
	HeaderChecksumMD5    = "X-Checksum-Md5"
	HeaderChecksumDeploy = "X-Checksum-Deploy"
)

// PutResult reports a completed upload attempt.
type PutResult struct {
	StatusCode int
}

// StatResult is destination metadata from a HEAD-style lookup.
type StatResult struct {
	Size int64
	// MD5 is the hex content hash when the store exposes one, else empty.
	MD5 string
}

// Store moves byte streams to a remote destination.
type Store interface {
	// Put streams body to dest. size may be -1 when unknown (the caller is
	// then responsible for a transfer encoding the backend accepts).
	// Implementations return *StatusError for non-2xx responses.
	Put(ctx context.Context, dest string, body io.Reader, size int64, hdr http.Header) (*PutResult, error)

	// Stat returns the destination's view of a previously uploaded object.
	Stat(ctx context.Context, dest string) (*StatResult, error)
}

// StatusError is a non-success response from a store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, trimBody(e.Body))
}

func trimBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// Retryable reports whether err is worth another attempt: server-side 5xx,
// checksum rejections, and transport-level failures. Other HTTP statuses
// are permanent.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || IsChecksumRejection(err)
	}
	// Anything that never produced a status line (dial errors, resets,
	// timeouts) is transport-level and transient.
	return err != nil
}

// IsChecksumRejection reports whether the store refused the upload because
// of its checksum headers. Artifact repositories signal this in the response
// body rather than with a dedicated status code.
func IsChecksumRejection(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return strings.Contains(strings.ToLower(se.Body), "checksum")
}
