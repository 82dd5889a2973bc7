package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbergen/convoy/internal/remote"
)

func writeFile(t *testing.T, path string, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return data
}

func extractAll(t *testing.T, zipPath string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = data
	}
	return out
}

func TestBuildRoundTrip(t *testing.T) {
	src := t.TempDir()
	want := map[string][]byte{
		"a.txt":         writeFile(t, filepath.Join(src, "a.txt"), 512),
		"nested/b.bin":  writeFile(t, filepath.Join(src, "nested", "b.bin"), 4096),
		"nested/deep/c": writeFile(t, filepath.Join(src, "nested", "deep", "c"), 100),
		"d.bin":         writeFile(t, filepath.Join(src, "d.bin"), 64*1024),
	}

	out := filepath.Join(t.TempDir(), "out.zip")
	b := NewBuilder(nil, nil)
	result, err := b.Build(context.Background(), BuildConfig{
		SourceRoot: src,
		OutputPath: out,
		Validate:   true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Validation)
	assert.True(t, result.Validation.OK())
	assert.Len(t, result.Entries, 4)

	got := extractAll(t, out)
	require.Len(t, got, 4)
	for name, data := range want {
		assert.Equal(t, data, got[name], name)
	}
}

func TestBuildCompressedRoundTrip(t *testing.T) {
	src := t.TempDir()
	// Repetitive content so deflate actually shrinks it.
	data := bytes.Repeat([]byte("convoy "), 8192)
	require.NoError(t, os.WriteFile(filepath.Join(src, "rep.txt"), data, 0644))

	out := filepath.Join(t.TempDir(), "out.zip")
	_, err := NewBuilder(nil, nil).Build(context.Background(), BuildConfig{
		SourceRoot: src,
		OutputPath: out,
		Compress:   true,
	})
	require.NoError(t, err)

	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.Less(t, fi.Size(), int64(len(data)))

	got := extractAll(t, out)
	assert.Equal(t, data, got["rep.txt"])
}

func TestBuildStreamsLargeEntries(t *testing.T) {
	src := t.TempDir()
	// Past the whole-read limit so the chunked path runs.
	want := writeFile(t, filepath.Join(src, "big.bin"), smallEntryLimit+1)

	out := filepath.Join(t.TempDir(), "out.zip")
	_, err := NewBuilder(nil, nil).Build(context.Background(), BuildConfig{
		SourceRoot: src,
		OutputPath: out,
		ChunkSize:  8 * 1024,
	})
	require.NoError(t, err)

	got := extractAll(t, out)
	assert.Equal(t, want, got["big.bin"])
}

func TestBuildOrdersEntriesAscending(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "mid.bin"), 2048)
	writeFile(t, filepath.Join(src, "tiny.bin"), 16)
	writeFile(t, filepath.Join(src, "big.bin"), 9000)

	out := filepath.Join(t.TempDir(), "out.zip")
	result, err := NewBuilder(nil, nil).Build(context.Background(), BuildConfig{
		SourceRoot: src,
		OutputPath: out,
	})
	require.NoError(t, err)

	require.Len(t, result.Entries, 3)
	assert.Equal(t, "tiny.bin", result.Entries[0].RelPath)
	assert.Equal(t, "mid.bin", result.Entries[1].RelPath)
	assert.Equal(t, "big.bin", result.Entries[2].RelPath)
}

func TestBuildSkipsContainersAndOutput(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.txt"), 32)
	writeFile(t, filepath.Join(src, "old.zip"), 32)
	writeFile(t, filepath.Join(src, "OLD.ZIP"), 32)

	// Output inside the source tree must not eat itself.
	out := filepath.Join(src, "out.zip")
	result, err := NewBuilder(nil, nil).Build(context.Background(), BuildConfig{
		SourceRoot: src,
		OutputPath: out,
	})
	require.NoError(t, err)

	require.Len(t, result.Entries, 1)
	assert.Equal(t, "keep.txt", result.Entries[0].RelPath)
}

func TestEntryRetryExhaustion(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "gone.bin")
	writeFile(t, path, 64)

	b := NewBuilder(nil, nil)
	entries, err := scanTree(src, "out.zip")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	start := time.Now()
	err = b.addEntry(context.Background(), zw, BuildConfig{EntryRetryDelay: time.Millisecond}, entries[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Less(t, time.Since(start), time.Second)
}

func TestBuildAbortsOnFailingEntry(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "ok.bin"), 32)
	bad := filepath.Join(src, "zz-bad.bin")
	writeFile(t, bad, 64)

	entries, err := scanTree(src, "out.zip")
	require.NoError(t, err)
	require.Equal(t, "zz-bad.bin", entries[1].relPath)
	// The declared size can never match the bytes on disk.
	entries[1].size = 99

	out := filepath.Join(t.TempDir(), "out.zip")
	f, err := os.Create(out)
	require.NoError(t, err)
	defer f.Close()

	_, err = NewBuilder(nil, nil).writeContainer(context.Background(), BuildConfig{EntryRetryDelay: time.Millisecond}, f, entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zz-bad.bin")
}

func TestBuildLeavesNoOutputOnFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "never.zip")
	_, err := NewBuilder(nil, nil).Build(context.Background(), BuildConfig{
		SourceRoot: filepath.Join(t.TempDir(), "missing"),
		OutputPath: out,
	})
	require.Error(t, err)

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestValidateDetectsMissingAndMismatch(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.bin"), 128)

	out := filepath.Join(t.TempDir(), "out.zip")
	_, err := NewBuilder(nil, nil).Build(context.Background(), BuildConfig{
		SourceRoot: src,
		OutputPath: out,
	})
	require.NoError(t, err)

	// New source file after the build: missing from the container.
	writeFile(t, filepath.Join(src, "late.bin"), 64)
	// Grown source file: size mismatch.
	writeFile(t, filepath.Join(src, "a.bin"), 256)

	report, err := ValidateArchive(src, out)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 2, report.FilesChecked)
	assert.Equal(t, []string{"late.bin"}, report.Missing)
	require.Len(t, report.Mismatched, 1)
	assert.Equal(t, "a.bin", report.Mismatched[0].RelPath)
	assert.Equal(t, int64(256), report.Mismatched[0].SourceSize)
	assert.Equal(t, int64(128), report.Mismatched[0].ArchiveSize)
}

func TestValidationSummaryIsBounded(t *testing.T) {
	report := &ValidationReport{FilesChecked: 9}
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		report.Missing = append(report.Missing, p)
	}
	s := report.Summary(5)
	assert.Contains(t, s, "7 missing")
	assert.Contains(t, s, "missing: e")
	assert.NotContains(t, s, "missing: f")
	assert.Contains(t, s, "and 2 more missing")
}

// memStore captures a pushed container in memory.
type memStore struct {
	mu   sync.Mutex
	body []byte
	size int64
}

func (m *memStore) Put(ctx context.Context, dest string, body io.Reader, size int64, hdr http.Header) (*remote.PutResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.body = data
	m.size = size
	m.mu.Unlock()
	return &remote.PutResult{StatusCode: 201}, nil
}

func (m *memStore) Stat(ctx context.Context, dest string) (*remote.StatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &remote.StatResult{Size: int64(len(m.body))}, nil
}

// abortStore consumes a little of the body and then fails the PUT.
type abortStore struct {
	readLimit int64
}

func (a *abortStore) Put(ctx context.Context, dest string, body io.Reader, size int64, hdr http.Header) (*remote.PutResult, error) {
	if _, err := io.CopyN(io.Discard, body, a.readLimit); err != nil {
		return nil, err
	}
	return nil, &remote.StatusError{StatusCode: 503, Body: "backend unavailable"}
}

func (a *abortStore) Stat(ctx context.Context, dest string) (*remote.StatResult, error) {
	return nil, &remote.StatusError{StatusCode: 503, Body: "backend unavailable"}
}

func TestPushSurfacesTransportError(t *testing.T) {
	src := t.TempDir()
	// Larger than the pipe buffer so the builder is mid-stream when the
	// upload dies.
	writeFile(t, filepath.Join(src, "big.bin"), pushBufferSize+8*1024*1024)

	store := &abortStore{readLimit: 1024}
	start := time.Now()
	_, err := NewBuilder(nil, nil).Push(context.Background(), BuildConfig{
		SourceRoot:      src,
		EntryRetryDelay: 5 * time.Second,
	}, store, "https://repo.example.com/drops/out.zip")
	require.Error(t, err)

	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode)
	assert.NotContains(t, err.Error(), "corrupt")
	// The dead pipe must not burn entry retries and their delays.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPushStreamsContainerToStore(t *testing.T) {
	src := t.TempDir()
	want := map[string][]byte{
		"a.txt":        writeFile(t, filepath.Join(src, "a.txt"), 256),
		"nested/b.bin": writeFile(t, filepath.Join(src, "nested", "b.bin"), 4096),
	}

	store := &memStore{}
	result, err := NewBuilder(nil, nil).Push(context.Background(), BuildConfig{
		SourceRoot: src,
		Validate:   true,
	}, store, "https://repo.example.com/drops/out.zip")
	require.NoError(t, err)
	assert.Equal(t, "https://repo.example.com/drops/out.zip", result.OutputPath)
	assert.Equal(t, int64(-1), store.size)

	zr, err := zip.NewReader(bytes.NewReader(store.body), int64(len(store.body)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		assert.Equal(t, want[f.Name], data, f.Name)
	}
}
