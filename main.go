package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abema/segfetch/adapters"
	"github.com/abema/segfetch/core"
	"github.com/abema/segfetch/inspectors"
	"github.com/abema/segfetch/internal/config"
	"github.com/abema/segfetch/internal/file"
	"github.com/abema/segfetch/internal/target"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	exitOK = iota
	exitFailure
	exitConnection
	exitDecode
	exitMetadataFormat
	exitFraming
	exitTimeout
	exitDigestMismatch
	exitInvalidArguments = 64
	exitInterrupted      = 130
)

type options struct {
	Config      string
	Target      string
	Host        string
	Port        int
	Mode        string
	SegmentSize string
	Timeout     time.Duration
	ReadTimeout time.Duration
	Attempts    int
	Log         struct {
		JSON     bool
		Severity string
		File     string
		MaxSize  int
	}
	Export struct {
		Dir  string
		Meta bool
	}
	Progress    bool
	MetricsFile string
	Out         string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Print("SIGNAL:", sig)
		cancel()
	}()
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, flagSet, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return invalidArguments(stderr, "%s", err)
	}
	cfg, err := loadConfig(opts, flagSet)
	if err != nil {
		return invalidArguments(stderr, "%s", err)
	}
	coreConfig, err := cfg.Core()
	if err != nil {
		return invalidArguments(stderr, "%s", err)
	}
	severity, _ := core.ParseSeverity(cfg.Log.Severity)

	onReport, closeLog := buildOnReportHandler(&cfg, severity, stderr)
	defer closeLog()
	coreConfig.OnReport = onReport
	coreConfig.Inspectors = []core.Inspector{
		inspectors.NewLengthInspector(),
		inspectors.NewThroughputInspector(),
	}
	if cfg.Export.Dir != "" {
		coreConfig.OnDownload = adapters.RawExchangeExporter(cfg.Export.Dir, cfg.Export.Meta)
	}
	var progress *adapters.Progress
	if cfg.Progress {
		progress = adapters.NewProgress(stderr, coreConfig.Target.String())
		coreConfig.OnDownload = core.MergeOnDownloadHandlers(coreConfig.OnDownload, progress.OnDownload())
		coreConfig.OnReport = core.MergeOnReportHandlers(coreConfig.OnReport, progress.OnReport())
	}
	var registry *prometheus.Registry
	if cfg.MetricsFile != "" {
		registry = prometheus.NewRegistry()
		metrics := adapters.NewMetrics("segfetch")
		if err := metrics.Register(registry); err != nil {
			log.Printf("ERROR: failed to register metrics: %s", err)
			return exitFailure
		}
		coreConfig.OnDownload = core.MergeOnDownloadHandlers(coreConfig.OnDownload, metrics.OnDownload())
		coreConfig.OnReport = core.MergeOnReportHandlers(coreConfig.OnReport, metrics.OnReport())
	}

	result, err := fetch(ctx, coreConfig, &cfg, progress)
	if progress != nil {
		progress.Finish()
	}
	if registry != nil {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, registry); err != nil {
			log.Printf("ERROR: failed to write metrics: %s: %s", cfg.MetricsFile, err)
		}
	}
	if err != nil {
		log.Printf("ERROR: %s", err)
		return exitCode(err)
	}
	if err := writeOutput(opts.Out, result.Payload, stdout); err != nil {
		log.Printf("ERROR: failed to write payload: %s", err)
		return exitFailure
	}
	log.Printf("fetched %s in %s (sha256 %s)", humanize.IBytes(uint64(len(result.Payload))), result.Elapsed.Round(time.Millisecond), result.Metadata.Digest)
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := new(options)
	flagSet := flag.NewFlagSet("segfetch", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.Usage = func() {
		printUsage(flagSet)
	}
	flagSet.StringVar(&opts.Config, "config", "", "YAML configuration file.")
	flagSet.StringVar(&opts.Target, "target", "", "server to fetch from (host[:port] or http://host[:port]/)")
	flagSet.StringVar(&opts.Host, "host", "", "server host name or address.")
	flagSet.IntVar(&opts.Port, "port", 0, "server port. (default 80)")
	flagSet.StringVar(&opts.Mode, "mode", "", "download strategy (whole|ranged|stream) (default ranged)")
	flagSet.StringVar(&opts.SegmentSize, "segment.size", "", "range width per request in ranged mode. (ex: 64KiB)")
	flagSet.DurationVar(&opts.Timeout, "timeout", 0, "time budget of a whole fetch cycle. (default 30s)")
	flagSet.DurationVar(&opts.ReadTimeout, "read.timeout", 0, "stall timeout of a single read in stream mode. (default 5s)")
	flagSet.IntVar(&opts.Attempts, "attempts", 0, "number of fetch cycles to try while the digest does not match. (default 1)")
	flagSet.BoolVar(&opts.Log.JSON, "log.json", false, "JSON log format")
	flagSet.StringVar(&opts.Log.Severity, "log.severity", "", "log severity (info|warn|error)")
	flagSet.StringVar(&opts.Log.File, "log.file", "", "append reports to a file instead of stderr.")
	flagSet.IntVar(&opts.Log.MaxSize, "log.maxSize", 0, "rotate the log file at this size in megabytes.")
	flagSet.StringVar(&opts.Export.Dir, "export.dir", "", "export raw responses to this directory.")
	flagSet.BoolVar(&opts.Export.Meta, "export.meta", false, "Export metadatas with raw files.")
	flagSet.BoolVar(&opts.Progress, "progress", false, "show a progress bar on stderr.")
	flagSet.StringVar(&opts.MetricsFile, "metrics.file", "", "write Prometheus metrics in text format to this file.")
	flagSet.StringVar(&opts.Out, "out", "", "write the verified payload to this file. (\"-\" for stdout)")
	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}
	switch len(flagSet.Args()) {
	case 0:
	case 1:
		if opts.Target != "" {
			return nil, nil, errors.New("target is given twice")
		}
		opts.Target = flagSet.Arg(0)
	default:
		return nil, nil, errors.New("too many arguments")
	}
	return opts, flagSet, nil
}

// loadConfig layers the configuration file, the environment and explicitly
// given flags, in that order.
func loadConfig(opts *options, flagSet *flag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.LoadFromFile(opts.Config); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	var override config.Config
	if opts.Target != "" {
		host, port, err := target.Parse(opts.Target)
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid target: %w", err)
		}
		override.Host, override.Port = host, port
	}
	var err error
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			override.Host = opts.Host
		case "port":
			override.Port = opts.Port
		case "mode":
			override.Mode = opts.Mode
		case "segment.size":
			if override.SegmentSize, err = config.ParseSize(opts.SegmentSize); err != nil {
				err = fmt.Errorf("invalid segment size: %w", err)
			}
		case "timeout":
			override.Timeout = opts.Timeout
		case "read.timeout":
			override.ReadTimeout = opts.ReadTimeout
		case "attempts":
			override.Retry.Attempts = opts.Attempts
		case "log.json":
			override.Log.JSON = opts.Log.JSON
		case "log.severity":
			override.Log.Severity = opts.Log.Severity
		case "log.file":
			override.Log.File = opts.Log.File
		case "log.maxSize":
			override.Log.MaxSize = opts.Log.MaxSize
		case "export.dir":
			override.Export.Dir = opts.Export.Dir
		case "export.meta":
			override.Export.Meta = opts.Export.Meta
		case "progress":
			override.Progress = opts.Progress
		case "metrics.file":
			override.MetricsFile = opts.MetricsFile
		}
	})
	if err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(override)
	return cfg, cfg.Validate()
}

func buildOnReportHandler(cfg *config.Config, severity core.Severity, stderr io.Writer) (core.OnReportHandler, func()) {
	logConfig := &adapters.ReportLogConfig{
		Flag:     log.LstdFlags,
		Summary:  true,
		JSON:     cfg.Log.JSON,
		Severity: severity,
	}
	var handler core.OnReportHandler
	closeLog := func() {}
	switch {
	case cfg.Log.File != "" && cfg.Log.MaxSize > 0:
		var closer io.Closer
		handler, closer = adapters.RotatingReportLogger(logConfig, &adapters.RotateConfig{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
		})
		closeLog = func() {
			closer.Close()
		}
	case cfg.Log.File != "":
		handler = adapters.FileReportLogger(logConfig, cfg.Log.File)
	default:
		handler = adapters.ReportLogger(logConfig, stderr)
	}
	alarm := adapters.Alarm(&adapters.AlarmConfig{
		OnAlarm: func(reports core.Reports) {
			log.Print("ALARM: consecutive fetch cycles failed")
		},
		OnRecover: func(reports core.Reports) {
			log.Print("RECOVERED: fetch cycle verified")
		},
		Window:                        3,
		AlarmIfErrorGreaterThanEqual:  2,
		RecoverIfInfoGreaterThanEqual: 1,
	})
	return core.MergeOnReportHandlers(handler, alarm), closeLog
}

// fetch repeats whole fetch cycles while the payload fails verification.
// Any other error ends the loop at once.
func fetch(ctx context.Context, coreConfig *core.Config, cfg *config.Config, progress *adapters.Progress) (*core.Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Retry.Backoff
	b.MaxInterval = cfg.Retry.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.Retry.Attempts-1)), ctx)

	fetcher := core.NewFetcher(coreConfig)
	var result *core.Result
	err := backoff.RetryNotify(func() error {
		var err error
		result, err = fetcher.Fetch(ctx)
		if err != nil && !errors.Is(err, core.ErrDigestMismatch) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, d time.Duration) {
		log.Printf("WARN: retry in %s: %s", d, err)
		if progress != nil {
			progress.Reset()
		}
	})
	return result, err
}

func writeOutput(name string, payload []byte, stdout io.Writer) error {
	switch name {
	case "":
		return nil
	case "-":
		_, err := stdout.Write(payload)
		return err
	}
	return file.WriteAtomic(name, payload)
}

func exitCode(err error) int {
	switch core.Kind(err) {
	case core.ErrConnection:
		return exitConnection
	case core.ErrDecode:
		return exitDecode
	case core.ErrMetadataFormat:
		return exitMetadataFormat
	case core.ErrFraming:
		return exitFraming
	case core.ErrTimeout:
		return exitTimeout
	case core.ErrDigestMismatch:
		return exitDigestMismatch
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitFailure
}

func printUsage(flagSet *flag.FlagSet) {
	w := flagSet.Output()
	fmt.Fprintln(w, "USAGE: segfetch [OPTIONS] [TARGET]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	flagSet.PrintDefaults()
}

func invalidArguments(w io.Writer, format string, args ...interface{}) int {
	fmt.Fprintln(w, "ERROR: invalid arguments:", fmt.Sprintf(format, args...))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "HELP: segfetch -h")
	return exitInvalidArguments
}
