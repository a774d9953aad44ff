package loadgen

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
	"github.com/pzverkov/pqtls-bench/pkg/httpwire"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
	"github.com/pzverkov/pqtls-bench/pkg/policy"
)

// Dialer opens the transport of one attempt. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Host        string
	Port        int
	Policy      *policy.Policy
	PayloadSize int
	Recorder    latency.Recorder
	Dialer      Dialer
	Logger      *metrics.Logger
	Collector   *metrics.Collector
	Tracer      metrics.Tracer
}

// Worker performs full client cycles against one server. A Worker holds no
// per-attempt state and may be shared, but the harness gives each goroutine
// its own.
type Worker struct {
	host      string
	addr      string
	policy    *policy.Policy
	payload   int
	recorder  latency.Recorder
	dialer    Dialer
	logger    *metrics.Logger
	collector *metrics.Collector
	tracer    metrics.Tracer
}

// NewWorker creates a worker. Nil collaborators fall back to defaults.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
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
	return &Worker{
		host:      cfg.Host,
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		policy:    cfg.Policy,
		payload:   cfg.PayloadSize,
		recorder:  cfg.Recorder,
		dialer:    cfg.Dialer,
		logger:    cfg.Logger,
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
	}
}

// Attempt performs one connect, handshake, request, response and shutdown
// on a fresh connection. A nil return is a success; any error is a failure,
// tagged by internal/errors.Classify. Benign failures are not logged.
func (w *Worker) Attempt(ctx context.Context) error {
	obs := metrics.NewObserver(metrics.ObserverConfig{
		Collector: w.collector,
		Tracer:    w.tracer,
		Logger:    w.logger,
		Role:      metrics.RoleClient,
		Remote:    w.addr,
	})
	ctx, endAttempt := obs.OnCycleStart(ctx)
	err := w.attempt(ctx, obs)
	obs.OnAttempt(err)
	endAttempt(err)
	return err
}

func (w *Worker) attempt(ctx context.Context, obs *metrics.Observer) error {
	raw, err := w.dialer.DialContext(ctx, "tcp", w.addr)
	if err != nil {
		return fail(ctx, obs, qerrors.PhaseConnect, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	conn := tls.Client(raw, w.policy.ClientTLSConfig(w.host))

	hctx, done := obs.OnHandshakeStart(ctx)
	err = conn.HandshakeContext(hctx)
	if err != nil {
		err = qerrors.Classify(qerrors.PhaseOf(ctx, qerrors.PhaseHandshake), err)
	}
	hs := done(err)
	if err != nil {
		_ = raw.Close()
		return err
	}

	req, err := httpwire.PayloadRequest(w.host, w.payload)
	if err != nil {
		_ = raw.Close()
		return fail(ctx, obs, qerrors.PhaseWrite, err)
	}

	start := time.Now()
	written, err := httpwire.Write(conn, req)
	writeDur := time.Since(start)
	if err != nil {
		_ = raw.Close()
		return fail(ctx, obs, qerrors.PhaseWrite, err)
	}
	obs.OnWrite(written, writeDur)

	start = time.Now()
	_, _, read, err := httpwire.NewReader(conn).ReadResponse(req)
	readDur := time.Since(start)
	if err != nil {
		_ = raw.Close()
		return fail(ctx, obs, qerrors.PhaseRead, err)
	}
	obs.OnRead(read, readDur)

	if err := w.recorder.Record(latency.ClientRecord(hs, written, writeDur, read, readDur)); err != nil {
		obs.Logger().Error("latency record failed", metrics.Fields{"error": err})
	}

	// Shutdown failures do not fail a completed cycle.
	_ = conn.Close()
	return nil
}

// fail classifies err for phase, logs it unless benign and returns it.
func fail(ctx context.Context, obs *metrics.Observer, phase qerrors.Phase, err error) error {
	err = qerrors.Classify(qerrors.PhaseOf(ctx, phase), err)
	obs.OnError(phase, err)
	return err
}
