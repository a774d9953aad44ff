// Package loadgen implements the client load harness: a fixed pool of
// workers, each looping over full connect, handshake, request, response and
// shutdown cycles, plus a reporter printing cumulative throughput.
//
// Workers retry immediately with no backoff. Every finished attempt counts
// exactly once as a success or a failure.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
	"github.com/pzverkov/pqtls-bench/pkg/policy"
)

// Attempter performs one client cycle. *Worker satisfies it.
type Attempter interface {
	Attempt(ctx context.Context) error
}

// Config configures a Harness.
type Config struct {
	Host        string
	Port        int
	Concurrency int
	Group       string
	PayloadSize int

	// SigAlgs overrides the compiled-in signature list when set.
	SigAlgs string

	// Rate paces attempts per second across all workers. 0 means no pacing.
	Rate float64

	// MaxAttempts stops each worker after that many attempts. 0 means run
	// until cancelled.
	MaxAttempts int

	// ReportInterval defaults to constants.DefaultReportInterval.
	ReportInterval time.Duration

	Recorder  latency.Recorder
	Dialer    Dialer
	Out       io.Writer
	Logger    *metrics.Logger
	Collector *metrics.Collector
	Tracer    metrics.Tracer
}

// Harness owns the worker pool and the reporter.
type Harness struct {
	workers     []Attempter
	counters    *Counters
	reporter    *Reporter
	limiter     *rate.Limiter
	maxAttempts int
	logger      *metrics.Logger
}

// New validates cfg and builds a harness of cfg.Concurrency workers. The
// client policy is parsed once here, so an unsupported group is a
// SetupError before any connection is made.
func New(cfg Config) (*Harness, error) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: %d", qerrors.ErrInvalidPort, cfg.Port))
	}
	if cfg.Concurrency < 1 {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: concurrency %d", qerrors.ErrInvalidConfig, cfg.Concurrency))
	}
	if cfg.PayloadSize < 0 {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: payload size %d", qerrors.ErrInvalidConfig, cfg.PayloadSize))
	}
	if cfg.Recorder == nil {
		return nil, qerrors.Setup(qerrors.PhaseSetup, errors.New("loadgen: nil latency recorder"))
	}

	sigAlgs := cfg.SigAlgs
	if sigAlgs == "" {
		sigAlgs = constants.SupportedSigAlgsList
	}
	pol, err := policy.Parse(cfg.Group, sigAlgs)
	if err != nil {
		return nil, err
	}

	cfg = withDefaults(cfg)
	workers := make([]Attempter, cfg.Concurrency)
	for i := range workers {
		workers[i] = NewWorker(WorkerConfig{
			Host:        cfg.Host,
			Port:        cfg.Port,
			Policy:      pol,
			PayloadSize: cfg.PayloadSize,
			Recorder:    cfg.Recorder,
			Dialer:      cfg.Dialer,
			Logger:      cfg.Logger,
			Collector:   cfg.Collector,
			Tracer:      cfg.Tracer,
		})
	}
	return FromAttempters(workers, cfg), nil
}

// FromAttempters builds a harness around existing attempters. Only the
// pacing, reporting and logging fields of cfg are used.
func FromAttempters(workers []Attempter, cfg Config) *Harness {
	cfg = withDefaults(cfg)
	counters := &Counters{}
	h := &Harness{
		workers:     workers,
		counters:    counters,
		reporter:    NewReporter(counters, cfg.Out, cfg.ReportInterval, cfg.Collector.HandshakeLatency()),
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger.Named("client"),
	}
	if cfg.Rate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return h
}

func withDefaults(cfg Config) Config {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = constants.DefaultReportInterval
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = metrics.GetLogger()
	}
	if cfg.Collector == nil {
		cfg.Collector = metrics.Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = metrics.GetTracer()
	}
	return cfg
}

// Counters returns the shared outcome counters.
func (h *Harness) Counters() *Counters {
	return h.counters
}

// Run starts every worker and the reporter, then waits for the workers.
// Workers stop when ctx is cancelled or, with MaxAttempts set, after their
// last attempt. The reporter prints a final line before Run returns.
func (h *Harness) Run(ctx context.Context) error {
	h.logger.Info("load started", metrics.Fields{"workers": len(h.workers)})

	reportCtx, stopReport := context.WithCancel(ctx)
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		h.reporter.Run(reportCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range h.workers {
		g.Go(func() error {
			return h.loop(gctx, w)
		})
	}
	err := g.Wait()

	stopReport()
	<-reported
	h.logger.Info("load stopped", metrics.Fields{
		"success": h.counters.Success(),
		"failure": h.counters.Failure(),
	})
	return err
}

// loop runs attempts back to back. Outcomes never stop the loop.
func (h *Harness) loop(ctx context.Context, w Attempter) error {
	for n := 0; h.maxAttempts == 0 || n < h.maxAttempts; n++ {
		if ctx.Err() != nil {
			return nil
		}
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		h.counters.Add(w.Attempt(ctx))
	}
	return nil
}
