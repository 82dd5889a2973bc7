package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbergen/convoy/internal/config"
	"github.com/mbergen/convoy/internal/remote"
)

var version = "dev"

type rootOptions struct {
	verbose    bool
	quiet      bool
	logFile    string
	configPath string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "convoy",
		Short:         "Adaptive chunked file transfer",
		Long:          "convoy uploads files and directory trees with memory-aware chunk sizing,\nparallel workers for small files, and integrity validation.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setupLogging(); err != nil {
				return err
			}
			return opts.loadConfig()
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "errors only")
	pf.StringVar(&opts.logFile, "log-file", "", "append JSON logs to file")
	pf.StringVar(&opts.configPath, "config", "", "config file (default: user config dir)")

	cmd.AddCommand(newUploadCmd(opts))
	cmd.AddCommand(newArchiveCmd(opts))
	return cmd
}

func (o *rootOptions) setupLogging() error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	if o.quiet {
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	var handler slog.Handler
	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func (o *rootOptions) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		// A file named on the command line must exist; only the default
		// location tolerates absence.
		if _, serr := os.Stat(o.configPath); serr != nil {
			return fmt.Errorf("config file: %w", serr)
		}
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// newStore picks a backend by URL scheme. Anything that is not S3 talks
// plain HTTP with optional basic auth.
func newStore(cmd *cobra.Command, baseURL, username, password string) (remote.Store, error) {
	if strings.HasPrefix(baseURL, "s3://") {
		return remote.NewS3Store(cmd.Context())
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("unsupported destination scheme in %q", baseURL)
	}
	if password == "" {
		password = os.Getenv("CONVOY_PASSWORD")
	}
	return remote.NewHTTPStore(remote.HTTPOptions{
		Username: username,
		Password: password,
		Timeout:  10 * time.Minute,
	}), nil
}

// parseSize accepts plain bytes or a binary-unit suffix: "8388608",
// "8MiB", "1.5GiB", "512KiB".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	units := []struct {
		suffix string
		mult   float64
	}{
		{"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10},
		{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			num := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q", s)
			}
			return int64(v * u.mult), nil
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return v, nil
}

// stringOr prefers the flag when set, then the config value, then def.
func stringOr(cmd *cobra.Command, name string, flagVal string, cfgVal *string, def string) string {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	if cfgVal != nil {
		return *cfgVal
	}
	return def
}

func intOr(cmd *cobra.Command, name string, flagVal int, cfgVal *int, def int) int {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	if cfgVal != nil {
		return *cfgVal
	}
	return def
}

func int64Or(cmd *cobra.Command, name string, flagVal int64, cfgVal *int64, def int64) int64 {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	if cfgVal != nil {
		return *cfgVal
	}
	return def
}

func boolOr(cmd *cobra.Command, name string, flagVal bool, cfgVal *bool, def bool) bool {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	if cfgVal != nil {
		return *cfgVal
	}
	return def
}
