package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/mbergen/convoy/internal/chunk"
	"github.com/mbergen/convoy/internal/integrity"
	"github.com/mbergen/convoy/internal/progress"
	"github.com/mbergen/convoy/internal/remote"
	"github.com/mbergen/convoy/internal/stats"
)

// Config controls a transfer run. Zero fields take the defaults from
// DefaultConfig; all tuning flows through this struct rather than
// package-level state.
type Config struct {
	// Workers bounds the pool for small items.
	Workers int
	// LargeThreshold is the size at or above which items are serialized.
	LargeThreshold int64
	// ChunkSize fixes the streaming chunk size; 0 means advised per item.
	ChunkSize int64
	// MaxRetries bounds total attempts per item.
	MaxRetries int
	// BackoffBase is the first retry delay.
	BackoffBase time.Duration
	// Validate re-checks size (and hash when available) after each upload.
	Validate bool
	// BandwidthLimit caps aggregate read throughput in bytes/sec; 0 is off.
	BandwidthLimit int64
}

// DefaultConfig returns the process-wide defaults, applied only at the
// outermost entry point.
func DefaultConfig() Config {
	return Config{
		Workers:        3,
		LargeThreshold: 100 * 1024 * 1024,
		MaxRetries:     3,
		BackoffBase:    time.Second,
		Validate:       true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.LargeThreshold <= 0 {
		c.LargeThreshold = d.LargeThreshold
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	return c
}

// Scheduler partitions items by size, fans small ones out to a worker pool,
// and pushes large ones through a single-flight gate one at a time.
type Scheduler struct {
	cfg     Config
	store   remote.Store
	advisor *chunk.Advisor
	stats   *stats.Collector
	limiter *rate.Limiter

	// largeGate serializes large items. It is a capacity-1 semaphore
	// scoped to the large queue, not a lock protecting shared data:
	// large items saturate bandwidth and memory on their own, so running
	// two at once buys nothing and risks exhaustion.
	largeGate *semaphore.Weighted
}

// NewScheduler creates a scheduler. advisor and collector may be nil, in
// which case a live advisor and a private collector are used.
func NewScheduler(cfg Config, store remote.Store, advisor *chunk.Advisor, collector *stats.Collector) *Scheduler {
	cfg = cfg.withDefaults()
	if advisor == nil {
		advisor = chunk.NewAdvisor(nil)
	}
	if collector == nil {
		collector = stats.NewCollector()
	}

	var limiter *rate.Limiter
	if cfg.BandwidthLimit > 0 {
		limiter = NewBWLimiter(cfg.BandwidthLimit)
	}

	return &Scheduler{
		cfg:       cfg,
		store:     store,
		advisor:   advisor,
		stats:     collector,
		limiter:   limiter,
		largeGate: semaphore.NewWeighted(1),
	}
}

// Run transfers every item and returns one Outcome per item. A failed item
// never aborts the run. Outcomes arrive in completion order for small items
// and sequence order for large ones; callers must key on item identity.
func (s *Scheduler) Run(ctx context.Context, items []Item) []Outcome {
	s.stats.AddItemsQueued(int64(len(items)))

	var small, large []Item
	for _, it := range items {
		if it.Size >= s.cfg.LargeThreshold {
			large = append(large, it)
		} else {
			small = append(small, it)
		}
	}

	// Smallest first: failures surface on cheap items, and quick transfers
	// free worker slots before the run is dominated by the big ones.
	bySize := func(a, b Item) int {
		if a.Size != b.Size {
			if a.Size < b.Size {
				return -1
			}
			return 1
		}
		return 0
	}
	slices.SortStableFunc(small, bySize)
	slices.SortStableFunc(large, bySize)

	slog.Info("transfer run starting",
		"items", len(items), "small", len(small), "large", len(large),
		"workers", s.cfg.Workers, "large_threshold", s.cfg.LargeThreshold)

	outcomes := make([]Outcome, 0, len(items))
	var mu sync.Mutex

	if len(small) > 0 {
		tasks := make(chan Item)
		var wg sync.WaitGroup
		for range s.cfg.Workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range tasks {
					out := s.transferItem(ctx, item)
					mu.Lock()
					outcomes = append(outcomes, out)
					mu.Unlock()
				}
			}()
		}
		for _, item := range small {
			tasks <- item
		}
		close(tasks)
		wg.Wait()
	}

	for _, item := range large {
		if err := s.largeGate.Acquire(ctx, 1); err != nil {
			mu.Lock()
			outcomes = append(outcomes, Outcome{
				Item: item, ErrorKind: ErrTransportExhausted, Err: err,
			})
			mu.Unlock()
			continue
		}
		out := s.transferItem(ctx, item)
		s.largeGate.Release(1)
		mu.Lock()
		outcomes = append(outcomes, out)
		mu.Unlock()
	}

	return outcomes
}

func (s *Scheduler) transferItem(ctx context.Context, item Item) Outcome {
	start := time.Now()

	// Stat at dispatch. A vanished source is not transient; skip retries.
	if _, err := os.Stat(item.Source); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.stats.AddItemsFailed(1)
			return Outcome{
				Item: item, ErrorKind: ErrNotFound,
				Err: fmt.Errorf("source missing at dispatch: %w", err), Elapsed: time.Since(start),
			}
		}
		s.stats.AddItemsFailed(1)
		return Outcome{
			Item: item, ErrorKind: ErrLocalRead,
			Err: fmt.Errorf("stat source: %w", err), Elapsed: time.Since(start),
		}
	}

	digest, err := integrity.DigestFile(item.Source)
	if err != nil {
		s.stats.AddItemsFailed(1)
		// The file can still vanish between the stat and the digest
		// open; anything else is an unreadable source.
		kind := ErrLocalRead
		if errors.Is(err, fs.ErrNotExist) {
			kind = ErrNotFound
		}
		return Outcome{Item: item, ErrorKind: kind, Err: err, Elapsed: time.Since(start)}
	}

	chunkSize := s.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.advisor.AdviseForFile(item.Size, s.cfg.Workers)
	}

	// The checksum-deploy adaptation persists for the remaining attempts
	// of this item only; every item starts clean.
	var deploy bool

	retrier := Retrier{MaxAttempts: s.cfg.MaxRetries, Base: s.cfg.BackoffBase}
	attempts, err := retrier.Do(ctx,
		func(ctx context.Context) error {
			return s.putOnce(ctx, item, digest, chunkSize, deploy)
		},
		func(err error) {
			s.stats.AddRetries(1)
			if remote.IsChecksumRejection(err) {
				slog.Warn("checksum rejected, switching to checksum-deploy header",
					"source", item.Source)
				deploy = true
			}
		},
	)

	if err != nil {
		s.stats.AddItemsFailed(1)
		slog.Warn("transfer failed",
			"source", item.Source, "destination", item.Destination,
			"attempts", attempts, "error", err)
		return Outcome{
			Item: item, Attempts: attempts,
			ErrorKind: ErrTransportExhausted, Err: err, Elapsed: time.Since(start),
		}
	}

	s.stats.AddItemsSent(1)
	s.stats.AddBytesSent(item.Size)

	out := Outcome{
		Item: item, Succeeded: true, Attempts: attempts, Elapsed: time.Since(start),
	}
	if s.cfg.Validate {
		out = s.validateItem(ctx, out, item, digest)
	}
	return out
}

// putOnce performs one full attempt: open, stream all chunks, close.
func (s *Scheduler) putOnce(ctx context.Context, item Item, digest integrity.Digest, chunkSize int64, deploy bool) error {
	tracker := progress.NewTracker(item.Source, item.Size)
	defer tracker.Finish()

	stream, err := newChunkStream(ctx, item.Source, chunkSize, tracker, s.limiter)
	if err != nil {
		return err
	}
	defer stream.Close()

	hdr := http.Header{}
	hdr.Set(remote.HeaderChecksumMD5, digest.MD5)
	if deploy {
		hdr.Set(remote.HeaderChecksumDeploy, "true")
	}

	_, err = s.store.Put(ctx, item.Destination, stream, item.Size, hdr)
	return err
}

func (s *Scheduler) validateItem(ctx context.Context, out Outcome, item Item, digest integrity.Digest) Outcome {
	st, err := s.store.Stat(ctx, item.Destination)
	if err != nil {
		s.stats.AddValidationFailed(1)
		out.Succeeded = false
		out.ErrorKind = ErrValidationFailed
		out.Err = fmt.Errorf("post-transfer stat: %w", err)
		return out
	}

	res := integrity.Validate(item.Size, digest.MD5, st.Size, st.MD5)
	if !res.OK {
		s.stats.AddValidationFailed(1)
		out.Succeeded = false
		out.ErrorKind = ErrValidationFailed
		out.Err = fmt.Errorf("validate %s: %s", item.Destination, res.Detail)
		return out
	}

	s.stats.AddItemsValidated(1)
	out.Validation = res.Strength
	return out
}
