package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/djherbis/buffer"
	nio "gopkg.in/djherbis/nio.v2"

	"github.com/mbergen/convoy/internal/remote"
)

// pushBufferSize bounds how far the build side may run ahead of the
// upload side.
const pushBufferSize = 32 * 1024 * 1024

// Push builds the container straight into an upload. The archive bytes
// flow through a bounded in-memory pipe and never touch local disk, so the
// container size is unknown up front and the store sees a stream of
// unknown length.
func (b *Builder) Push(ctx context.Context, cfg BuildConfig, store remote.Store, dest string) (*Result, error) {
	entries, err := scanTree(cfg.SourceRoot, cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	pr, pw := nio.Pipe(buffer.New(pushBufferSize))

	type buildDone struct {
		result         *Result
		containerBytes int64
		err            error
	}
	done := make(chan buildDone, 1)

	go func() {
		cw := &countingWriter{w: pw}
		result, err := b.writeContainer(ctx, cfg, cw, entries)
		// Propagates a build failure to the reader so the PUT aborts
		// instead of uploading a truncated container.
		pw.CloseWithError(err)
		done <- buildDone{result, cw.n, err}
	}()

	_, putErr := store.Put(ctx, dest, pr, -1, nil)
	pr.Close()
	build := <-done

	// A failed PUT closes the pipe under the builder; the resulting
	// closed-pipe build error is a consequence, not the cause, and must
	// not mask the transport error.
	if build.err != nil && !errors.Is(build.err, io.ErrClosedPipe) {
		return nil, fmt.Errorf("build during push: %w", build.err)
	}
	if putErr != nil {
		return nil, fmt.Errorf("push to %s: %w", dest, putErr)
	}
	if build.err != nil {
		return nil, fmt.Errorf("build during push: %w", build.err)
	}
	build.result.OutputPath = dest

	if cfg.Validate {
		stat, err := store.Stat(ctx, dest)
		if err != nil {
			return nil, fmt.Errorf("validate pushed archive: %w", err)
		}
		if stat.Size != build.containerBytes {
			return build.result, fmt.Errorf("pushed archive size %d, wrote %d", stat.Size, build.containerBytes)
		}
	}
	return build.result, nil
}

// countingWriter records the container length for post-push validation.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
