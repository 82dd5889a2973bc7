package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbergen/convoy/internal/archive"
	"github.com/mbergen/convoy/internal/chunk"
	"github.com/mbergen/convoy/internal/stats"
)

type archiveOptions struct {
	compress  bool
	validate  bool
	chunkSize string
	push      bool
	username  string
	password  string
}

func newArchiveCmd(root *rootOptions) *cobra.Command {
	opts := &archiveOptions{}

	cmd := &cobra.Command{
		Use:   "archive <source-dir> <output>",
		Short: "Pack a directory tree into a ZIP container",
		Long:  "Pack a directory tree into a ZIP container. With --push the output\nargument is a URL and the container streams straight to the store\nwithout touching local disk.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, root, opts, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.compress, "compress", "c", false, "deflate entries instead of storing them")
	f.BoolVar(&opts.validate, "validate", true, "verify the finished container against the source tree")
	f.StringVar(&opts.chunkSize, "chunk-size", "", "fixed streaming read size (default: advised from memory)")
	f.BoolVar(&opts.push, "push", false, "treat output as a URL and upload while building")
	f.StringVarP(&opts.username, "username", "u", "", "basic auth user for --push")
	f.StringVarP(&opts.password, "password", "p", "", "basic auth password for --push (or CONVOY_PASSWORD)")
	return cmd
}

func runArchive(cmd *cobra.Command, root *rootOptions, opts *archiveOptions, source, output string) error {
	cfgFile := root.cfg

	compress := boolOr(cmd, "compress", opts.compress, cfgFile.Compress, false)
	chunkSize, err := parseSize(opts.chunkSize)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("chunk-size") && cfgFile.ChunkSize != nil {
		chunkSize = *cfgFile.ChunkSize
	}

	collector := stats.NewCollector()
	builder := archive.NewBuilder(chunk.NewAdvisor(nil), collector)
	cfg := archive.BuildConfig{
		SourceRoot: source,
		Compress:   compress,
		Validate:   opts.validate,
		ChunkSize:  chunkSize,
	}

	var result *archive.Result
	if opts.push {
		username := stringOr(cmd, "username", opts.username, cfgFile.Username, "")
		store, err := newStore(cmd, output, username, opts.password)
		if err != nil {
			return err
		}
		result, err = builder.Push(cmd.Context(), cfg, store, output)
		if err != nil {
			return err
		}
	} else {
		cfg.OutputPath = output
		result, err = builder.Build(cmd.Context(), cfg)
		if err != nil {
			if result != nil && result.Validation != nil && !result.Validation.OK() {
				fmt.Fprintln(cmd.ErrOrStderr(), result.Validation.Summary(5))
			}
			return err
		}
	}

	snap := collector.Snapshot()
	slog.Info("archive complete",
		"output", result.OutputPath,
		"entries", snap.EntriesArchived,
		"bytes", stats.FormatBytes(snap.BytesArchived),
		"elapsed", collector.Elapsed().Round(time.Millisecond))
	return nil
}
