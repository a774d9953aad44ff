package metrics

import (
	"context"
	"time"

	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
)

// Roles an Observer can be attached to.
const (
	RoleServer = "server"
	RoleClient = "client"
)

// Observer provides observability hooks for a server session or a client
// attempt. It records metrics, starts spans and logs operational failures.
// Benign teardowns are counted but never logged.
type Observer struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	sessionID string
	role      string
	remote    string
}

// ObserverConfig configures an observer.
type ObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	SessionID string
	Role      string // RoleServer or RoleClient
	Remote    string
}

// NewObserver creates a new observer. Nil collaborators fall back to the
// package globals.
func NewObserver(cfg ObserverConfig) *Observer {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	fields := Fields{"role": cfg.Role}
	if cfg.SessionID != "" {
		fields["session_id"] = cfg.SessionID
	}
	if cfg.Remote != "" {
		fields["remote"] = cfg.Remote
	}

	return &Observer{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.Named(cfg.Role).With(fields),
		sessionID: cfg.SessionID,
		role:      cfg.Role,
		remote:    cfg.Remote,
	}
}

// OnSessionStart should be called when an accepted connection becomes a session.
func (o *Observer) OnSessionStart() {
	o.collector.SessionStarted()
	o.logger.Debug("session started")
}

// OnSessionEnd should be called once the session reached Closed.
func (o *Observer) OnSessionEnd() {
	o.collector.SessionEnded()
	o.logger.Debug("session ended")
}

// OnHandshakeStart starts timing a handshake. The returned function ends the
// span, records the latency on success and returns the elapsed time.
func (o *Observer) OnHandshakeStart(ctx context.Context) (context.Context, func(error) time.Duration) {
	spanName := SpanServerHandshake
	kind := SpanKindServer
	if o.role == RoleClient {
		spanName = SpanClientHandshake
		kind = SpanKindClient
	}

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, spanName,
		WithSpanKind(kind),
		WithAttributes(o.attributes().KeyValues()...))

	return ctx, func(err error) time.Duration {
		d := time.Since(start)
		if err != nil {
			if o.role == RoleServer {
				o.collector.SessionFailed()
			}
			o.OnError(qerrors.PhaseHandshake, err)
		} else {
			o.collector.RecordHandshakeLatency(d)
			o.logger.Debug("handshake completed", Fields{"duration": d.String()})
		}
		endSpan(err)
		return d
	}
}

// OnCycleStart starts the span of one request/response cycle, or of one
// client attempt.
func (o *Observer) OnCycleStart(ctx context.Context) (context.Context, func(error)) {
	spanName := SpanServerCycle
	kind := SpanKindServer
	if o.role == RoleClient {
		spanName = SpanClientAttempt
		kind = SpanKindClient
	}
	ctx, endSpan := o.tracer.StartSpan(ctx, spanName, WithSpanKind(kind))
	return ctx, func(err error) {
		if err == nil && o.role == RoleServer {
			o.collector.RecordCycle()
		}
		endSpan(err)
	}
}

// OnRead records a message of n bytes read in d.
func (o *Observer) OnRead(n int, d time.Duration) {
	o.collector.RecordRead(n, d)
}

// OnWrite records a message of n bytes written in d.
func (o *Observer) OnWrite(n int, d time.Duration) {
	o.collector.RecordWrite(n, d)
}

// OnAttempt records the outcome of a finished client attempt.
func (o *Observer) OnAttempt(err error) {
	switch {
	case err == nil:
		o.collector.RecordAttempt(OutcomeSuccess)
	case qerrors.IsBenignTeardown(err):
		o.collector.RecordAttempt(OutcomeBenign)
	default:
		o.collector.RecordAttempt(OutcomeOperational)
	}
}

// OnAcceptError records and logs a failed accept.
func (o *Observer) OnAcceptError(err error) {
	o.collector.RecordAcceptError()
	o.logger.Error("accept failed", Fields{"error": err})
}

// OnError logs err at error level unless it classifies as a benign teardown
// of phase. It reports whether the error was logged.
func (o *Observer) OnError(phase qerrors.Phase, err error) bool {
	if err == nil {
		return false
	}
	err = qerrors.Classify(phase, err)
	if qerrors.IsBenignTeardown(err) {
		return false
	}
	o.logger.Error(string(phase)+" failed", Fields{
		"phase": string(phase),
		"error": err,
	})
	return true
}

// Logger returns the observer's logger for custom logging.
func (o *Observer) Logger() *Logger {
	return o.logger
}

// SessionID returns the id the observer tags its logs with.
func (o *Observer) SessionID() string {
	return o.sessionID
}

func (o *Observer) attributes() SpanAttributes {
	return SpanAttributes{
		SessionID: o.sessionID,
		Role:      o.role,
		Remote:    o.remote,
	}
}
