// Package archive builds ZIP containers from directory trees without ever
// holding more than one chunk of a large file in memory.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"

	"github.com/mbergen/convoy/internal/chunk"
	"github.com/mbergen/convoy/internal/progress"
	"github.com/mbergen/convoy/internal/stats"
)

const (
	// smallEntryLimit is the size below which an entry is read whole
	// instead of streamed.
	smallEntryLimit = 10 * 1024 * 1024

	// entryAttempts bounds the flat per-entry retry. Entry builds are
	// quick, so a fixed delay keeps behavior predictable where the
	// transfer path wants exponential backoff.
	entryAttempts = 3

	defaultEntryRetryDelay = time.Second
)

// BuildConfig describes one archive build.
type BuildConfig struct {
	SourceRoot string
	OutputPath string
	// Compress deflates entries; otherwise they are stored.
	Compress bool
	// Validate re-walks the source against the finished container.
	Validate bool
	// ChunkSize fixes the streaming read size; 0 means advised per entry.
	ChunkSize int64
	// EntryRetryDelay overrides the flat retry delay (tests).
	EntryRetryDelay time.Duration
}

// Entry describes one file recorded in the container.
type Entry struct {
	RelPath    string
	Size       int64
	Compressed bool
}

// Result reports a completed build.
type Result struct {
	OutputPath string
	Entries    []Entry
	TotalBytes int64
	// Validation is set when BuildConfig.Validate was requested.
	Validation *ValidationReport
}

// Builder assembles containers. Safe to reuse across builds.
type Builder struct {
	advisor *chunk.Advisor
	stats   *stats.Collector
}

// NewBuilder creates a builder. advisor and collector may be nil.
func NewBuilder(advisor *chunk.Advisor, collector *stats.Collector) *Builder {
	if advisor == nil {
		advisor = chunk.NewAdvisor(nil)
	}
	if collector == nil {
		collector = stats.NewCollector()
	}
	return &Builder{advisor: advisor, stats: collector}
}

type entryInfo struct {
	absPath string
	relPath string
	size    int64
	modTime time.Time
}

// Build writes the container to cfg.OutputPath. A failing entry aborts the
// whole build: a partial archive is never a valid deliverable, so the
// half-written output is removed on error.
func (b *Builder) Build(ctx context.Context, cfg BuildConfig) (*Result, error) {
	entries, err := scanTree(cfg.SourceRoot, cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	// Temp-then-rename so an aborted build never leaves a plausible
	// container at the destination path.
	dir := filepath.Dir(cfg.OutputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.convoy-tmp",
		filepath.Base(cfg.OutputPath), uuid.New().String()[:8]))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmpPath, err)
	}
	defer os.Remove(tmpPath) // no-op once renamed

	result, err := b.writeContainer(ctx, cfg, f, entries)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", tmpPath, cerr)
	}
	if err != nil {
		return nil, err
	}

	if err := os.Rename(tmpPath, cfg.OutputPath); err != nil {
		return nil, fmt.Errorf("rename %s -> %s: %w", tmpPath, cfg.OutputPath, err)
	}
	result.OutputPath = cfg.OutputPath

	if cfg.Validate {
		report, err := ValidateArchive(cfg.SourceRoot, cfg.OutputPath)
		if err != nil {
			return nil, err
		}
		result.Validation = report
		if !report.OK() {
			return result, fmt.Errorf("archive validation failed: %d missing, %d mismatched",
				len(report.Missing), len(report.Mismatched))
		}
	}

	return result, nil
}

// writeContainer streams every entry into w in ascending size order.
func (b *Builder) writeContainer(ctx context.Context, cfg BuildConfig, w io.Writer, entries []entryInfo) (*Result, error) {
	zw := zip.NewWriter(w)
	// Faster deflate than the stdlib at comparable ratios.
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	result := &Result{Entries: make([]Entry, 0, len(entries))}

	for _, e := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := b.addEntry(ctx, zw, cfg, e); err != nil {
			return nil, err
		}

		b.stats.AddEntriesArchived(1)
		b.stats.AddBytesArchived(e.size)
		result.Entries = append(result.Entries, Entry{
			RelPath:    e.relPath,
			Size:       e.size,
			Compressed: cfg.Compress,
		})
		result.TotalBytes += e.size
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize container: %w", err)
	}
	return result, nil
}

// addEntry writes one entry, retrying the whole entry a fixed number of
// times with a flat delay before giving up and failing the build.
func (b *Builder) addEntry(ctx context.Context, zw *zip.Writer, cfg BuildConfig, e entryInfo) error {
	delay := cfg.EntryRetryDelay
	if delay <= 0 {
		delay = defaultEntryRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= entryAttempts; attempt++ {
		lastErr = b.writeEntry(zw, cfg, e)
		if lastErr == nil {
			return nil
		}
		// A closed sink means the consumer is gone; re-reading the
		// source cannot bring it back.
		if errors.Is(lastErr, io.ErrClosedPipe) {
			return lastErr
		}
		if attempt < entryAttempts {
			slog.Warn("archive entry failed, retrying",
				"entry", e.relPath, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("entry %s corrupt after %d attempts: %w", e.relPath, entryAttempts, lastErr)
}

func (b *Builder) writeEntry(zw *zip.Writer, cfg BuildConfig, e entryInfo) error {
	// Open before the header goes out so the common failure (unreadable
	// source) retries without touching the container.
	f, err := os.Open(e.absPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.absPath, err)
	}
	defer f.Close()

	hdr := &zip.FileHeader{
		Name:     filepath.ToSlash(e.relPath),
		Method:   zip.Store,
		Modified: e.modTime,
	}
	if cfg.Compress {
		hdr.Method = zip.Deflate
	}
	// Declaring the size up front lets the writer emit 64-bit headers for
	// entries that need them; the total archive size is never known in
	// advance, so ZIP64 is always in play.
	hdr.UncompressedSize64 = uint64(e.size)

	ew, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", e.relPath, err)
	}

	var written int64
	if e.size < smallEntryLimit {
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", e.absPath, err)
		}
		n, err := ew.Write(data)
		if err != nil {
			return fmt.Errorf("write entry %s: %w", e.relPath, err)
		}
		written = int64(n)
	} else {
		chunkSize := cfg.ChunkSize
		if chunkSize <= 0 {
			chunkSize = b.advisor.AdviseForFile(e.size, 1)
		}
		tracker := progress.NewTracker(e.relPath, e.size)
		defer tracker.Finish()

		buf := make([]byte, chunkSize)
		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				if _, werr := ew.Write(buf[:n]); werr != nil {
					return fmt.Errorf("write entry %s: %w", e.relPath, werr)
				}
				written += int64(n)
				tracker.Advance(int64(n))
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return fmt.Errorf("read %s: %w", e.absPath, rerr)
			}
		}
	}

	// The declared size must equal the bytes actually streamed; anything
	// else corrupts the container.
	if written != e.size {
		return fmt.Errorf("entry %s: declared %d bytes, streamed %d", e.relPath, e.size, written)
	}
	return nil
}

// scanTree collects regular files under root, ascending by size. The
// container itself and any ZIP found in the tree are skipped so a build
// never swallows its own output.
func scanTree(root, outputPath string) ([]entryInfo, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", root)
	}

	absOut, _ := filepath.Abs(outputPath)

	var entries []entryInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".zip") {
			return nil
		}
		if abs, aerr := filepath.Abs(path); aerr == nil && abs == absOut {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, entryInfo{
			absPath: path,
			relPath: rel,
			size:    fi.Size(),
			modTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	slices.SortStableFunc(entries, func(a, b entryInfo) int {
		if a.size != b.size {
			if a.size < b.size {
				return -1
			}
			return 1
		}
		return strings.Compare(a.relPath, b.relPath)
	})
	return entries, nil
}
