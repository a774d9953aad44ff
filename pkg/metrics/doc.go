// Package metrics provides observability primitives for the pqtls-bench harness.
//
// # Overview
//
// The package covers:
//   - A Collector of session, cycle and attempt counters with in-process
//     latency histograms, mirrored to a Prometheus registry
//   - A Tracer interface with an OpenTelemetry adapter
//   - Structured logging on zap
//   - Health checks and an HTTP observability server
//
// None of this replaces the per-handshake latency log. The collector and
// spans are an aggregate view next to it.
//
// # Metrics Collection
//
//	collector := metrics.NewCollector(metrics.Labels{"role": "server"})
//
//	collector.SessionStarted()
//	collector.RecordHandshakeLatency(d)
//	collector.RecordRead(n, d)
//	collector.RecordWrite(n, d)
//	collector.RecordCycle()
//	collector.SessionEnded()
//
//	snap := collector.Snapshot()
//	p99 := metrics.Duration(snap.HandshakeLatency.P99)
//
// # Observers
//
// Sessions and load workers do not call the collector directly. They hold an
// Observer, which also opens spans and logs failures that are not benign
// teardowns:
//
//	obs := metrics.NewObserver(metrics.ObserverConfig{
//		Collector: collector,
//		Role:      metrics.RoleServer,
//		SessionID: id,
//		Remote:    conn.RemoteAddr().String(),
//	})
//	ctx, done := obs.OnHandshakeStart(ctx)
//	elapsed := done(stream.HandshakeContext(ctx))
//
// # Tracing
//
// Two tracers back the Tracer interface besides NoOpTracer. SpanRecorder
// keeps a bounded ring of finished spans and logs each one at debug level.
// OTelTracer forwards to an OpenTelemetry SDK provider, which InstallOTel
// builds with a batching stdout exporter:
//
//	tracer, shutdown, err := metrics.InstallOTel(metrics.OTelConfig{
//		ServiceName: "pqtls-bench",
//		Role:        metrics.RoleClient,
//		Output:      traceFile,
//	})
//	defer shutdown(context.Background())
//	metrics.SetTracer(tracer)
//
// # Structured Logging
//
//	logger := metrics.NewLogger(
//		metrics.WithLevel(metrics.LevelInfo),
//		metrics.WithFormat(metrics.FormatJSON),
//	)
//	logger.Named("server").Info("listening", metrics.Fields{"addr": addr})
//
// # Observability Server
//
//	server := metrics.NewServer(metrics.ServerConfig{
//		Collector: collector,
//		Version:   version.Version,
//		Metrics:   true,
//		Health:    true,
//	})
//	server.Health().Register("heap", metrics.HeapCheck(512<<20))
//	go server.Serve(ctx, ":9090")
//
// This provides:
//   - /metrics - Prometheus metrics
//   - /health  - Detailed health status
//   - /healthz - Liveness check
//   - /readyz  - Readiness check
package metrics
