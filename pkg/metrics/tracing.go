package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Span names opened by Observer.
const (
	SpanServerHandshake = "pqtls.server.handshake"
	SpanServerCycle     = "pqtls.server.cycle"
	SpanClientAttempt   = "pqtls.client.attempt"
	SpanClientHandshake = "pqtls.client.handshake"
)

// Tracer opens spans around handshakes, cycles and attempts.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder)
}

// SpanEnder finishes a span. A non-nil error marks it failed.
type SpanEnder func(err error)

// SpanKind is the role a span plays in the exchange.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// SpanOption configures a span at start.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind  SpanKind
	attrs []attribute.KeyValue
}

func newSpanConfig(opts []SpanOption) spanConfig {
	var cfg spanConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithAttributes appends span attributes.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) { c.attrs = append(c.attrs, attrs...) }
}

// SpanAttributes are the attributes Observer puts on its spans.
type SpanAttributes struct {
	SessionID string
	Role      string
	Remote    string
	Group     string
}

// KeyValues returns the non-empty attributes.
func (a SpanAttributes) KeyValues() []attribute.KeyValue {
	kv := make([]attribute.KeyValue, 0, 4)
	add := func(key, val string) {
		if val != "" {
			kv = append(kv, attribute.String(key, val))
		}
	}
	add("session.id", a.SessionID)
	add("session.role", a.Role)
	add("net.peer.addr", a.Remote)
	add("tls.group", a.Group)
	return kv
}

// NoOpTracer discards every span.
type NoOpTracer struct{}

// StartSpan returns ctx unchanged.
func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// FinishedSpan is a span kept by a SpanRecorder.
type FinishedSpan struct {
	Name     string
	Kind     SpanKind
	TraceID  string
	SpanID   string
	ParentID string
	Start    time.Time
	Duration time.Duration
	Attrs    []attribute.KeyValue
	Err      error
}

// DefaultSpanCapacity is the ring size used when none is given.
const DefaultSpanCapacity = 256

// SpanRecorder keeps the most recent finished spans in a fixed-size ring and
// optionally logs each one at debug level. Memory stays bounded however long
// the run.
type SpanRecorder struct {
	logger *Logger

	mu    sync.Mutex
	ring  []FinishedSpan
	next  int
	total uint64
}

// NewSpanRecorder creates a recorder holding up to capacity spans. A nil
// logger disables span logging.
func NewSpanRecorder(capacity int, logger *Logger) *SpanRecorder {
	if capacity <= 0 {
		capacity = DefaultSpanCapacity
	}
	return &SpanRecorder{
		logger: logger,
		ring:   make([]FinishedSpan, 0, capacity),
	}
}

type recordedSpanKey struct{}

// StartSpan opens a span. Spans started under another recorded span share its
// trace id.
func (r *SpanRecorder) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := newSpanConfig(opts)
	span := &FinishedSpan{
		Name:    name,
		Kind:    cfg.kind,
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
		Start:   time.Now(),
		Attrs:   cfg.attrs,
	}
	if parent, ok := ctx.Value(recordedSpanKey{}).(*FinishedSpan); ok {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}

	ctx = context.WithValue(ctx, recordedSpanKey{}, span)
	return ctx, func(err error) {
		span.Duration = time.Since(span.Start)
		span.Err = err
		r.finish(*span)
	}
}

func (r *SpanRecorder) finish(s FinishedSpan) {
	r.mu.Lock()
	if len(r.ring) < cap(r.ring) {
		r.ring = append(r.ring, s)
	} else {
		r.ring[r.next] = s
	}
	r.next = (r.next + 1) % cap(r.ring)
	r.total++
	r.mu.Unlock()

	if r.logger == nil {
		return
	}
	fields := Fields{
		"span":     s.Name,
		"trace_id": s.TraceID,
		"duration": s.Duration.String(),
	}
	if s.ParentID != "" {
		fields["parent_id"] = s.ParentID
	}
	if s.Err != nil {
		fields["error"] = s.Err
	}
	r.logger.Debug("span finished", fields)
}

// Spans returns the retained spans, oldest first.
func (r *SpanRecorder) Spans() []FinishedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FinishedSpan, 0, len(r.ring))
	if len(r.ring) < cap(r.ring) {
		return append(out, r.ring...)
	}
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

// Total returns how many spans have finished, retained or not.
func (r *SpanRecorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

var (
	globalTracer   Tracer = NoOpTracer{}
	globalTracerMu sync.RWMutex
)

// SetTracer installs the tracer used when none is passed explicitly.
func SetTracer(t Tracer) {
	globalTracerMu.Lock()
	defer globalTracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the process tracer.
func GetTracer() Tracer {
	globalTracerMu.RLock()
	defer globalTracerMu.RUnlock()
	return globalTracer
}
