package metrics

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig configures the OpenTelemetry pipeline of one run.
type OTelConfig struct {
	ServiceName string
	Version     string
	Role        string

	// Output receives exported spans as JSON lines. Defaults to stderr.
	Output io.Writer
}

// NewTracerProvider builds an SDK provider that batches spans into a stdout
// exporter writing to cfg.Output. The batcher's bounded queue drops spans
// rather than grow without limit under load.
func NewTracerProvider(cfg OTelConfig) (*sdktrace.TracerProvider, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("metrics: span exporter: %w", err)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.Version != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.Version))
	}
	if cfg.Role != "" {
		attrs = append(attrs, attribute.String("pqtls.role", cfg.Role))
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	), nil
}

// InstallOTel builds a provider from cfg, makes it the process-wide
// OpenTelemetry provider and returns a tracer on it. The shutdown function
// flushes pending spans and must be called before exit.
func InstallOTel(cfg OTelConfig) (*OTelTracer, func(context.Context) error, error) {
	tp, err := NewTracerProvider(cfg)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(tp)
	return NewOTelTracer(tp, cfg.ServiceName), tp.Shutdown, nil
}

// OTelTracer adapts an OpenTelemetry tracer to Tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer returns a tracer from tp, or from the global provider when
// tp is nil.
func NewOTelTracer(tp trace.TracerProvider, name string) *OTelTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if name == "" {
		name = "pqtls-bench"
	}
	return &OTelTracer{tracer: tp.Tracer(name)}
}

// StartSpan starts an OpenTelemetry span.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := newSpanConfig(opts)
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(otelSpanKind(cfg.kind)),
		trace.WithAttributes(cfg.attrs...))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func otelSpanKind(kind SpanKind) trace.SpanKind {
	switch kind {
	case SpanKindServer:
		return trace.SpanKindServer
	case SpanKindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}
