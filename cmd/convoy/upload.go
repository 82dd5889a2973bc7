package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbergen/convoy/internal/chunk"
	"github.com/mbergen/convoy/internal/stats"
	"github.com/mbergen/convoy/internal/transfer"
)

type uploadOptions struct {
	workers        int
	largeThreshold string
	chunkSize      string
	retries        int
	backoff        time.Duration
	validate       bool
	bwlimit        string
	username       string
	password       string
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload <source> [dest-url]",
		Short: "Upload a file or directory tree",
		Long:  "Upload a file or directory tree. The destination URL may be omitted\nwhen the config file sets one.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := ""
			if len(args) == 2 {
				dest = args[1]
			}
			return runUpload(cmd, root, opts, args[0], dest)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.workers, "workers", "w", 3, "parallel workers for small files")
	f.StringVar(&opts.largeThreshold, "large-threshold", "100MiB", "files at or above this size transfer one at a time")
	f.StringVar(&opts.chunkSize, "chunk-size", "", "fixed chunk size (default: advised from memory)")
	f.IntVar(&opts.retries, "retries", 3, "attempts per file")
	f.DurationVar(&opts.backoff, "backoff", time.Second, "base retry backoff")
	f.BoolVar(&opts.validate, "validate", true, "verify size and checksum after upload")
	f.StringVar(&opts.bwlimit, "bwlimit", "", "bandwidth cap, e.g. 10MiB (per second)")
	f.StringVarP(&opts.username, "username", "u", "", "basic auth user")
	f.StringVarP(&opts.password, "password", "p", "", "basic auth password (or CONVOY_PASSWORD)")
	return cmd
}

func runUpload(cmd *cobra.Command, root *rootOptions, opts *uploadOptions, source, destURL string) error {
	cfgFile := root.cfg
	if destURL == "" {
		if cfgFile.URL == nil || *cfgFile.URL == "" {
			return fmt.Errorf("no destination URL given and none configured")
		}
		destURL = *cfgFile.URL
	}

	workers := intOr(cmd, "workers", opts.workers, cfgFile.Workers, 3)
	retries := intOr(cmd, "retries", opts.retries, cfgFile.Retries, 3)
	validate := boolOr(cmd, "validate", opts.validate, cfgFile.Validate, true)
	username := stringOr(cmd, "username", opts.username, cfgFile.Username, "")

	threshold, err := parseSize(opts.largeThreshold)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("large-threshold") && cfgFile.LargeThreshold != nil {
		threshold = *cfgFile.LargeThreshold
	}
	chunkSize, err := parseSize(opts.chunkSize)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("chunk-size") && cfgFile.ChunkSize != nil {
		chunkSize = *cfgFile.ChunkSize
	}
	bwlimit, err := parseSize(opts.bwlimit)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("bwlimit") && cfgFile.BandwidthLimit != nil {
		bwlimit = *cfgFile.BandwidthLimit
	}

	backoff := opts.backoff
	if !cmd.Flags().Changed("backoff") && cfgFile.BackoffMillis != nil {
		backoff = time.Duration(*cfgFile.BackoffMillis) * time.Millisecond
	}

	items, err := collectItems(source, destURL)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		slog.Info("nothing to upload", "source", source)
		return nil
	}

	store, err := newStore(cmd, destURL, username, opts.password)
	if err != nil {
		return err
	}

	collector := stats.NewCollector()
	sched := transfer.NewScheduler(transfer.Config{
		Workers:        workers,
		LargeThreshold: threshold,
		ChunkSize:      chunkSize,
		MaxRetries:     retries,
		BackoffBase:    backoff,
		Validate:       validate,
		BandwidthLimit: bwlimit,
	}, store, chunk.NewAdvisor(nil), collector)

	outcomes := sched.Run(cmd.Context(), items)

	var failed int
	for _, out := range outcomes {
		if !out.Succeeded {
			failed++
			slog.Error("transfer failed",
				"source", out.Item.Source,
				"kind", out.ErrorKind.String(),
				"attempts", out.Attempts,
				"error", out.Err)
		}
	}

	snap := collector.Snapshot()
	slog.Info("run complete",
		"sent", snap.ItemsSent,
		"failed", snap.ItemsFailed,
		"bytes", stats.FormatBytes(snap.BytesSent),
		"retries", snap.Retries,
		"validated", snap.ItemsValidated,
		"elapsed", collector.Elapsed().Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(items))
	}
	return nil
}

// collectItems expands a file or directory into transfer items. The
// destination keeps the tree shape: each file lands at destURL joined
// with its path relative to source.
func collectItems(source, destURL string) ([]transfer.Item, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	base := strings.TrimRight(destURL, "/")

	if !info.IsDir() {
		return []transfer.Item{{
			Source:      source,
			Destination: base + "/" + path.Base(filepath.ToSlash(source)),
			Size:        info.Size(),
		}}, nil
	}

	var items []transfer.Item
	err = filepath.WalkDir(source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		items = append(items, transfer.Item{
			Source:      p,
			Destination: base + "/" + filepath.ToSlash(rel),
			Size:        fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", source, err)
	}
	return items, nil
}
