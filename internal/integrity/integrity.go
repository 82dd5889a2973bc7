// Package integrity computes and compares content digests for transfers.
//
// Two digests are produced in a single pass: MD5 because it is what the
// artifact stores speak on the wire (checksum deploy headers, ETag-style
// responses), and BLAKE3 as the fast local identity used when both sides of
// a comparison are under our control.
package integrity

import (
	"crypto/md5" //nolint:gosec // wire-compat checksum, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// digestBufSize keeps memory use independent of stream length.
const digestBufSize = 32 * 1024

// Digest holds the hex-encoded content hashes of one stream.
type Digest struct {
	MD5    string
	BLAKE3 string
	Size   int64
}

// DigestReader consumes r to EOF, hashing incrementally.
func DigestReader(r io.Reader) (Digest, error) {
	md := md5.New() //nolint:gosec // see package comment
	bl := blake3.New()

	buf := make([]byte, digestBufSize)
	n, err := io.CopyBuffer(io.MultiWriter(md, bl), r, buf)
	if err != nil {
		return Digest{}, fmt.Errorf("digest stream: %w", err)
	}

	return Digest{
		MD5:    hex.EncodeToString(md.Sum(nil)),
		BLAKE3: hex.EncodeToString(bl.Sum(nil)),
		Size:   n,
	}, nil
}

// DigestFile opens and digests the file at path.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d, err := DigestReader(f)
	if err != nil {
		return Digest{}, fmt.Errorf("digest %s: %w", path, err)
	}
	return d, nil
}

// Strength records how much of the local state the remote side could confirm.
type Strength int

const (
	// StrengthNone means validation failed or was not performed.
	StrengthNone Strength = iota
	// StrengthSizeOnly means only sizes were compared; the remote exposed
	// no content hash.
	StrengthSizeOnly
	// StrengthFull means size and content hash both matched.
	StrengthFull
)

func (s Strength) String() string {
	switch s {
	case StrengthSizeOnly:
		return "size-only"
	case StrengthFull:
		return "full"
	default:
		return "none"
	}
}

// Result is the outcome of comparing local and remote state.
type Result struct {
	OK       bool
	Strength Strength
	Detail   string
}

// Validate compares a local size/hash pair against what the remote reports.
// Size mismatch always fails. A remote hash, when present, must match;
// when absent, validation degrades to size-only and reports that strength.
func Validate(localSize int64, localMD5 string, remoteSize int64, remoteMD5 string) Result {
	if localSize != remoteSize {
		return Result{
			Strength: StrengthNone,
			Detail:   fmt.Sprintf("size mismatch: local=%d remote=%d", localSize, remoteSize),
		}
	}

	if remoteMD5 == "" {
		return Result{OK: true, Strength: StrengthSizeOnly}
	}

	if localMD5 != remoteMD5 {
		return Result{
			Strength: StrengthNone,
			Detail:   fmt.Sprintf("checksum mismatch: local=%s remote=%s", localMD5, remoteMD5),
		}
	}

	return Result{OK: true, Strength: StrengthFull}
}
