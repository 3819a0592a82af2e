package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/plantnet/gbif-dl/internal/config"
	"github.com/plantnet/gbif-dl/internal/downloader"
	"github.com/plantnet/gbif-dl/internal/media"
)

// commonFlags binds the engine configuration flags shared by all download
// commands.
type commonFlags struct {
	configPath string
	root       string
	workers    int
	batchSize  int
	tcpConns   int
	retries    int
	timeout    time.Duration
	proxy      string
	subsets    string
	overwrite  bool
	strict     bool
	noProgress bool
	logLevel   string
	errorLog   string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	f := &commonFlags{}
	fs.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	fs.StringVar(&f.root, "root", "", "Target directory or bucket URL (file://, s3://, gs://)")
	fs.IntVar(&f.workers, "workers", 0, "Number of parallel download workers")
	fs.IntVar(&f.batchSize, "batch-size", 0, "Items per work batch")
	fs.IntVar(&f.tcpConns, "tcp-connections", 0, "Maximum concurrent connections")
	fs.IntVar(&f.retries, "retries", 0, "Fetch attempts per item")
	fs.DurationVar(&f.timeout, "timeout", 0, "Per-request timeout")
	fs.StringVar(&f.proxy, "proxy", "", "Outbound proxy URL")
	fs.StringVar(&f.subsets, "subsets", "", "Random subset weights, e.g. train=0.9,test=0.1")
	fs.BoolVar(&f.overwrite, "overwrite", false, "Re-download items that already exist")
	fs.BoolVar(&f.strict, "strict", false, "Stop the run on the first failed download")
	fs.BoolVar(&f.noProgress, "no-progress", false, "Disable the progress display")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.errorLog, "error-log", "", "Also append per-item failure logs to this file")
	return f
}

// load resolves the effective configuration: file, then environment, then
// flags.
func (f *commonFlags) load() (config.Config, error) {
	cfg := config.Default()
	cfg.Progress = true

	if f.configPath != "" {
		fileCfg, err := config.LoadFromFile(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		Root:           f.root,
		Overwrite:      f.overwrite,
		Strict:         f.strict,
		Proxy:          f.proxy,
		TCPConnections: f.tcpConns,
		Workers:        f.workers,
		BatchSize:      f.batchSize,
		Timeout:        f.timeout,
		Retry:          config.RetryConfig{Attempts: f.retries},
		LogLevel:       f.logLevel,
		ErrorLog:       f.errorLog,
	}
	if f.subsets != "" {
		subsets, err := config.ParseSubsets(f.subsets)
		if err != nil {
			return config.Config{}, err
		}
		override.Subsets = subsets
	}
	cfg = cfg.Merge(override)

	if f.noProgress {
		cfg.Progress = false
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "gbif-dl",
	})
	if parsed, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[gbif-dl] Received interrupt, shutting down...")
		cancel()
	}()
	return ctx, cancel
}

// runEngine drives one download run and reports the outcome.
func runEngine(ctx context.Context, cfg config.Config, items media.Stream) int {
	logOutput := io.Writer(os.Stderr)
	if cfg.ErrorLog != "" {
		f, err := os.OpenFile(cfg.ErrorLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening error log: %v\n", err)
			return ExitGeneralError
		}
		defer f.Close()
		logOutput = io.MultiWriter(os.Stderr, f)
	}

	logger := log.NewWithOptions(logOutput, log.Options{
		ReportTimestamp: true,
		Prefix:          "gbif-dl",
	})
	if parsed, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(parsed)
	}

	params := downloader.Params{
		Overwrite:      cfg.Overwrite,
		Strict:         cfg.Strict,
		TCPConnections: cfg.TCPConnections,
		Workers:        cfg.Workers,
		BatchSize:      cfg.BatchSize,
		Retries:        cfg.Retry.Attempts,
		Timeout:        cfg.Timeout,
		Backoff:        cfg.Retry.Backoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Proxy:          cfg.Proxy,
		RandomSubsets:  cfg.Subsets,
		Logger:         logger,
	}
	if cfg.Progress {
		params.ProgressOutput = os.Stderr
	}

	stats, err := downloader.DownloadTo(ctx, items, cfg.Root, params)

	fmt.Fprintf(os.Stderr, "[gbif-dl] Done: %s\n", stats.String())

	switch {
	case err != nil && ctx.Err() != nil:
		return ExitGeneralError
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitDownloadFailed
	case stats.Failed > 0:
		return ExitDownloadFailed
	}
	return ExitSuccess
}

// parseQueryArgs turns repeated key=value pairs into a query, collecting
// repeated keys into value lists.
func parseQueryArgs(pairs []string) (map[string][]string, error) {
	query := make(map[string][]string)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid query %q, want key=value", pair)
		}
		query[key] = append(query[key], value)
	}
	return query, nil
}

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}
