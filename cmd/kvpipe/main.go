// Command kvpipe reads key/value commands line by line and applies them
// through a parallel parse pipeline to a single-owner in-memory store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/kvpipe/pkg/command"
	"github.com/fluxorio/kvpipe/pkg/config"
	"github.com/fluxorio/kvpipe/pkg/core"
	"github.com/fluxorio/kvpipe/pkg/gateway"
	"github.com/fluxorio/kvpipe/pkg/observability/prometheus"
	"github.com/fluxorio/kvpipe/pkg/observability/tracing"
	"github.com/fluxorio/kvpipe/pkg/pipeline"
	"github.com/fluxorio/kvpipe/pkg/source"
	"github.com/fluxorio/kvpipe/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	configPath  string
	input       string
	workers     int
	sequential  bool
	printConfig bool
	dumpStore   bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("kvpipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", os.Getenv("KVPIPE_CONFIG"), "YAML or JSON config file")
	fs.StringVar(&o.input, "input", "", `command file, "-" for stdin (default stdin when no network source is enabled)`)
	fs.IntVar(&o.workers, "workers", 0, "override pipeline.workers")
	fs.BoolVar(&o.sequential, "sequential", false, "apply lines one by one on the main goroutine, without the pool")
	fs.BoolVar(&o.printConfig, "print-config", false, "print the effective configuration and exit")
	fs.BoolVar(&o.dumpStore, "dump-store", false, "print the final store contents")
	err := fs.Parse(args)
	return o, err
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// workers and the state owner log concurrently
	stdout, stderr = &core.SyncWriter{W: stdout}, &core.SyncWriter{W: stderr}

	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "kvpipe: %v\n", err)
		return 2
	}
	if opts.workers > 0 {
		cfg.Pipeline.Workers = opts.workers
	}

	bootLogger := core.NewLogger(stdout, stderr, core.LevelWarn)
	if err := cfg.Validate(bootLogger); err != nil {
		fmt.Fprintf(stderr, "kvpipe: %v\n", err)
		return 2
	}
	if opts.printConfig {
		if err := config.WriteYAML(stdout, cfg); err != nil {
			fmt.Fprintf(stderr, "kvpipe: %v\n", err)
			return 1
		}
		return 0
	}

	logger := core.NewLogger(stdout, stderr, cfg.Level())

	if opts.sequential {
		return runSequential(ctx, opts.input, stdin, logger, stdout, opts.dumpStore)
	}
	return runPipeline(ctx, cfg, opts.input, stdin, logger, stdout, opts.dumpStore)
}

func networked(cfg config.Config) bool {
	return cfg.Gateway.Enabled || cfg.NATS.Enabled || cfg.Kafka.Enabled
}

// lineSource returns nil when there is no line input to read
func lineSource(path string, stdin io.Reader, hasNetwork bool, sub source.Submitter, logger core.Logger) source.Source {
	switch {
	case path == "-" || (path == "" && !hasNetwork):
		return source.NewReader("stdin", stdin, sub, logger)
	case path == "":
		return nil
	}
	return source.NewFile(path, sub, logger)
}

// sequentialApplier parses and applies each line on the submitting goroutine
type sequentialApplier struct {
	st       *store.Store
	logger   core.Logger
	line     uint64
	failures uint64
}

func (a *sequentialApplier) SubmitNext(raw string) (uint64, error) {
	a.line++
	if strings.TrimSpace(raw) == "" {
		return a.line, nil
	}
	cmd, err := command.Parse(raw)
	if err != nil {
		a.failures++
		var se *command.SyntaxError
		if errors.As(err, &se) {
			err = se.WithLine(a.line)
		}
		a.logger.Errorf("parse error: %v", err)
		return a.line, nil
	}
	res, err := a.st.Apply(cmd)
	if err != nil {
		a.logger.Warnf("[Line %d] Error: %v", a.line, err)
		return a.line, nil
	}
	a.logger.Infof("[Line %d] %s", a.line, res)
	return a.line, nil
}

// runSequential applies lines in order on the calling goroutine, without the pool
func runSequential(ctx context.Context, path string, stdin io.Reader, logger core.Logger, stdout io.Writer, dump bool) int {
	a := &sequentialApplier{st: store.New(), logger: logger}
	if src := lineSource(path, stdin, false, a, logger); src != nil {
		if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("%v", err)
			return 1
		}
	}

	logger.Infof("sequential run done: %d lines, %d parse failures", a.line, a.failures)
	if dump {
		printStore(stdout, a.st.Snapshot())
	}
	return 0
}

func runPipeline(ctx context.Context, cfg config.Config, path string, stdin io.Reader, logger core.Logger, stdout io.Writer, dump bool) int {
	observers := pipeline.MultiObserver{pipeline.NewLogObserver(logger)}

	registry, registerer := prometheus.NewRegistry()
	metrics := prometheus.NewMetrics(registerer)
	observers = append(observers, metrics)

	tp := tracing.NewNop()
	runID := core.NewRunID()
	if cfg.Tracing.Enabled {
		var err error
		if tp, err = tracing.NewStdout(os.Stderr, runID); err != nil {
			logger.Errorf("%v", err)
			return 1
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("tracing shutdown: %v", err)
		}
	}()

	pool, err := pipeline.New(cfg.PoolConfig(),
		pipeline.WithRunID(runID),
		pipeline.WithLogger(logger),
		pipeline.WithObserver(observers),
		pipeline.WithTracerProvider(tp),
	)
	if err != nil {
		logger.Errorf("%v", err)
		return 2
	}
	if err := pool.Run(); err != nil {
		logger.Errorf("%v", err)
		return 1
	}

	sources, err := networkSources(cfg, pool, metrics, registry, logger)
	if err != nil {
		logger.Errorf("%v", err)
		_, _ = pool.Shutdown()
		return 1
	}

	netCtx, cancelNet := context.WithCancel(ctx)
	defer cancelNet()
	g, gctx := errgroup.WithContext(netCtx)
	for _, src := range sources {
		g.Go(func() error {
			if err := src.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", src.Name(), err)
			}
			return nil
		})
	}

	exit := 0
	if in := lineSource(path, stdin, networked(cfg), pool, logger); in != nil {
		if err := in.Run(core.WithRunID(ctx, pool.RunID())); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("%v", err)
			exit = 1
		}
	}
	if len(sources) > 0 {
		logger.Infof("serving %d network sources until interrupted", len(sources))
		<-gctx.Done()
	}
	cancelNet()
	if err := g.Wait(); err != nil {
		logger.Errorf("%v", err)
		exit = 1
	}

	report, err := pool.Shutdown()
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	logReport(logger, report)
	if dump {
		printStore(stdout, report.Store)
	}
	if !report.Healthy() {
		exit = 1
	}
	return exit
}

func networkSources(cfg config.Config, pool *pipeline.Pool, metrics *prometheus.Metrics, gatherer promclient.Gatherer, logger core.Logger) ([]source.Source, error) {
	var out []source.Source
	if cfg.Gateway.Enabled {
		out = append(out, gateway.New(gateway.Config{
			Addr:      cfg.Gateway.Addr,
			JWTSecret: cfg.Gateway.JWTSecret,
			Metrics:   metrics,
			Gatherer:  gatherer,
			Logger:    logger,
		}, pool))
	}
	if cfg.NATS.Enabled {
		src, err := source.NewNATS(source.NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Name:    "kvpipe-" + pool.RunID(),
		}, pool, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if cfg.Kafka.Enabled {
		src, err := source.NewKafka(source.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.Group,
			Topic:   cfg.Kafka.Topic,
		}, pool, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func logReport(logger core.Logger, r pipeline.Report) {
	logger.Infof("run %s: processed %d, parse failures %d, skipped %d, dropped %d",
		r.RunID, r.Processed, r.ParseFailures, r.Skipped, r.Dropped)
	for _, w := range r.Failed() {
		logger.Errorf("%s", w)
	}
	if r.OwnerErr != nil {
		logger.Errorf("state owner: %v", r.OwnerErr)
	}
}

func printStore(w io.Writer, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\n", k, m[k])
	}
}
