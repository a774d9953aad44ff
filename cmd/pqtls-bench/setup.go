package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pzverkov/pqtls-bench/internal/config"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
	pkgversion "github.com/pzverkov/pqtls-bench/pkg/version"
)

// runEnv bundles what every command that does session work needs.
type runEnv struct {
	cfg       *config.Config
	logger    *metrics.Logger
	collector *metrics.Collector
	tracer    metrics.Tracer
	maxHeap   uint64

	closers []func(context.Context) error
}

// close flushes the tracer pipeline and the logger. Commands defer it.
func (rt *runEnv) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	// Sync on a terminal fails with EINVAL on some platforms.
	_ = rt.logger.Sync()
	return errors.Join(errs...)
}

const shutdownTimeout = 5 * time.Second

// loadConfig resolves defaults, the --config file, PQTLS_ variables and the
// root's persistent flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	setString(flags, "log-level", &cfg.Log.Level)
	setString(flags, "log-format", &cfg.Log.Format)
	setString(flags, "log-dir", &cfg.Log.Dir)
	setString(flags, "obs-addr", &cfg.Observability.Addr)
	setString(flags, "max-heap", &cfg.Observability.MaxHeap)
	return cfg, nil
}

// setupObservability builds the logger, collector and tracer for one run and
// installs them as the process defaults. The caller must close the result.
func setupObservability(cmd *cobra.Command, cfg *config.Config, role string) (*runEnv, error) {
	level, err := metrics.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	format, err := metrics.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	var maxHeap int64
	if cfg.Observability.MaxHeap != "" {
		if maxHeap, err = parseSize(cfg.Observability.MaxHeap); err != nil {
			return nil, fmt.Errorf("max heap: %w", err)
		}
	}

	runID := uuid.NewString()
	logger := metrics.NewLogger(
		metrics.WithOutput(os.Stderr),
		metrics.WithLevel(level),
		metrics.WithFormat(format),
		metrics.WithFields(metrics.Fields{"app": pkgversion.Name, "run_id": runID}),
	)
	metrics.SetLogger(logger)

	rt := &runEnv{cfg: cfg, logger: logger, maxHeap: uint64(maxHeap)}

	mode, _ := cmd.Flags().GetString("tracing")
	if mode == "" && cfg.Observability.Tracing {
		mode = "otel"
	}
	traceOut := io.Writer(os.Stderr)
	if path, _ := cmd.Flags().GetString("trace-output"); path != "" && strings.EqualFold(mode, "otel") {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("trace output: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return f.Close() })
		traceOut = f
	}
	tracer, shutdown, err := newTracer(mode, role, logger, traceOut)
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	if shutdown != nil {
		rt.closers = append(rt.closers, shutdown)
	}
	rt.tracer = tracer
	metrics.SetTracer(tracer)

	rt.collector = metrics.NewCollector(metrics.Labels{
		"service": pkgversion.Name,
		"role":    role,
	})
	metrics.SetGlobal(rt.collector)
	return rt, nil
}

// newTracer builds the tracer for mode. The returned shutdown, when non-nil,
// flushes buffered spans.
func newTracer(mode, role string, logger *metrics.Logger, out io.Writer) (metrics.Tracer, func(context.Context) error, error) {
	switch strings.ToLower(mode) {
	case "", "none":
		return metrics.NoOpTracer{}, nil, nil
	case "log":
		return metrics.NewSpanRecorder(metrics.DefaultSpanCapacity, logger.Named("trace")), nil, nil
	case "otel":
		tracer, shutdown, err := metrics.InstallOTel(metrics.OTelConfig{
			ServiceName: pkgversion.Name,
			Version:     getVersion(),
			Role:        role,
			Output:      out,
		})
		if err != nil {
			return nil, nil, err
		}
		return tracer, shutdown, nil
	default:
		return nil, nil, fmt.Errorf("invalid tracing mode: %s (use none, log, or otel)", mode)
	}
}

// serveObservability runs the metrics and health server on addr until ctx is
// done. An empty addr disables it.
func (rt *runEnv) serveObservability(ctx context.Context, addr string, ready func() bool) {
	if addr == "" {
		return
	}
	server := rt.newObservabilityServer(ready)
	go func() {
		if err := server.Serve(ctx, addr); err != nil {
			rt.logger.Error("observability server error", metrics.Fields{"error": err})
		}
	}()
}

func (rt *runEnv) newObservabilityServer(ready func() bool) *metrics.Server {
	server := metrics.NewServer(metrics.ServerConfig{
		Collector: rt.collector,
		Logger:    rt.logger,
		Version:   getVersion(),
		Metrics:   true,
		Health:    true,
	})
	if ready != nil {
		server.Health().Register("listener", metrics.ListenerCheck(ready))
	}
	if rt.maxHeap > 0 {
		server.Health().Register("heap", metrics.HeapCheck(rt.maxHeap))
	}
	return server
}

// Flag overrides apply only when the flag was given, so file and environment
// values survive unset flags.

func setString(flags *pflag.FlagSet, name string, dst *string) {
	if flags.Changed(name) {
		*dst, _ = flags.GetString(name)
	}
}

func setInt(flags *pflag.FlagSet, name string, dst *int) {
	if flags.Changed(name) {
		*dst, _ = flags.GetInt(name)
	}
}

func setInt64(flags *pflag.FlagSet, name string, dst *int64) {
	if flags.Changed(name) {
		*dst, _ = flags.GetInt64(name)
	}
}

func setFloat(flags *pflag.FlagSet, name string, dst *float64) {
	if flags.Changed(name) {
		*dst, _ = flags.GetFloat64(name)
	}
}

func setDuration(flags *pflag.FlagSet, name string, dst *time.Duration) {
	if flags.Changed(name) {
		*dst, _ = flags.GetDuration(name)
	}
}
