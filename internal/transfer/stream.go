package transfer

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"github.com/mbergen/convoy/internal/progress"
)

// chunkStream reads a source file as a lazy, finite sequence of chunks,
// advancing a progress tracker as bytes leave the process. It is not
// restartable: a retry discards the stream and opens a fresh one from
// offset zero.
type chunkStream struct {
	ctx       context.Context
	f         *os.File
	chunkSize int64
	tracker   *progress.Tracker
	limiter   *rate.Limiter
}

// newChunkStream opens path for chunked reading. limiter may be nil.
func newChunkStream(
	ctx context.Context,
	path string,
	chunkSize int64,
	tracker *progress.Tracker,
	limiter *rate.Limiter,
) (*chunkStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &chunkStream{
		ctx:       ctx,
		f:         f,
		chunkSize: chunkSize,
		tracker:   tracker,
		limiter:   limiter,
	}, nil
}

// Read fills p up to one chunk's worth of bytes. Peak memory per stream is
// therefore bounded by the chunk size, not the file size.
func (s *chunkStream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}

	if int64(len(p)) > s.chunkSize {
		p = p[:s.chunkSize]
	}

	n, err := s.f.Read(p)
	if n > 0 {
		s.tracker.Advance(int64(n))
		if s.limiter != nil {
			if waitErr := s.limiter.WaitN(s.ctx, n); waitErr != nil {
				return n, waitErr
			}
		}
	}
	return n, err
}

func (s *chunkStream) Close() error {
	return s.f.Close()
}

// NewBWLimiter creates a rate.Limiter that caps aggregate throughput to
// bytesPerSec. The burst matches one maximum chunk so full-sized reads pass
// without artificial stalls.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 64 * 1024 * 1024
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}
