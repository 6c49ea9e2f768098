package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"claimscore/internal/config"
	"claimscore/internal/metrics"
	"claimscore/internal/metrics/datadog"

	// register all backends with the storage factory.
	_ "claimscore/internal/storage/all"
)

const usage = "usage: claimscore -config <path> [-validate] [-v] [-metrics-backend datadog|none] [-serve | -listen addr] [-input file] [-probe]"

// runOptions carries the per-invocation flags the runner needs.
type runOptions struct {
	// Input replaces the configured source with a local file.
	Input string
	// Listen, when set, serves the HTTP API instead of scoring one upload.
	Listen string
	// Probe inspects the upload against the schema instead of scoring it.
	Probe  bool
	Stdout io.Writer
}

type runner interface {
	Run(ctx context.Context, p config.Pipeline, o runOptions) error
}

// appDeps are the seams runMain is tested through.
type appDeps struct {
	newLogger   func(w io.Writer, verbose bool) *slog.Logger
	loadConfig  func(path string) (config.Pipeline, error)
	initMetrics func(ctx context.Context, jobName, backendName string) (func(), error)
	newRunner   func(log *slog.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		newLogger: func(w io.Writer, verbose bool) *slog.Logger {
			level := config.ParseLevel(os.Getenv("LOG_LEVEL"))
			if verbose {
				level = slog.LevelDebug
			}
			log := config.NewLogger(w, level)
			slog.SetDefault(log)
			return log
		},
		loadConfig:  config.Load,
		initMetrics: initMetrics,
		newRunner:   func(log *slog.Logger) runner { return &scorer{log: log} },
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain parses flags, loads and validates the config, wires metrics and
// runs. It returns the process exit code: 0 success, 1 failure, 2 usage.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("claimscore", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfgPath := fs.String("config", "", "pipeline config path (.json, .yaml)")
	validate := fs.Bool("validate", false, "validate the configuration and exit")
	verbose := fs.Bool("v", false, "enable debug logs")
	backendName := fs.String("metrics-backend", "", "metrics backend (datadog, none); defaults to $METRICS_BACKEND")
	serve := fs.Bool("serve", false, "serve the HTTP API on server.listen")
	listen := fs.String("listen", "", "serve the HTTP API on this address (implies -serve)")
	input := fs.String("input", "", "score this local file instead of the configured source")
	probeOnly := fs.Bool("probe", false, "report how the upload matches the schema without scoring it")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if *probeOnly && (*serve || *listen != "") {
		fmt.Fprintln(stderr, "-probe cannot be combined with -serve or -listen")
		fmt.Fprintln(stderr, usage)
		return 2
	}

	log := deps.newLogger(stderr, *verbose)

	p, err := deps.loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", *cfgPath)
		return 1
	}
	if *validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", *cfgPath)
		return 0
	}

	name := *backendName
	if name == "" {
		name = os.Getenv("METRICS_BACKEND")
	}
	cleanup, err := deps.initMetrics(ctx, p.Job, name)
	if err != nil {
		cleanup()
		fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	o := runOptions{Input: *input, Probe: *probeOnly, Stdout: stdout}
	switch {
	case *listen != "":
		o.Listen = *listen
	case *serve:
		o.Listen = p.Server.Listen
	}

	start := time.Now()
	if err := deps.newRunner(log).Run(ctx, p, o); err != nil {
		log.Error("run failed", "job", p.Job, "err", err)
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	log.Debug("completed", "job", p.Job, "elapsed", time.Since(start).Truncate(time.Millisecond).String())
	return 0
}

// metricsBackend is what initMetrics needs from a concrete backend.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b metrics.Backend) { metrics.SetBackend(b) }
	logError          = func(msg string, args ...any) { slog.Error(msg, args...) }
)

// initMetrics installs the named backend. The returned cleanup is never nil
// and flushes the backend; call it once.
func initMetrics(ctx context.Context, jobName, backendName string) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return func() {}, nil

	case "datadog", "dd":
		// Buffers metrics and submits periodically, plus once more on Close.
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return func() {}, fmt.Errorf("init datadog backend: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logError("metrics: datadog close error", "err", err)
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q", backendName)
	}
}
