package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every exported metric name.
const DefaultNamespace = "pqtls_bench"

// Outcome classifies a finished client attempt or server session.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeBenign      Outcome = "benign"
	OutcomeOperational Outcome = "operational"
)

// Collector aggregates metrics from sessions and load workers.
type Collector struct {
	// Session metrics
	sessionsActive atomic.Uint64
	sessionsTotal  atomic.Uint64
	sessionsFailed atomic.Uint64
	cyclesTotal    atomic.Uint64
	acceptErrors   atomic.Uint64

	// Attempt outcomes
	attemptsSuccess     atomic.Uint64
	attemptsBenign      atomic.Uint64
	attemptsOperational atomic.Uint64

	// Traffic metrics
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	// Performance histograms (microseconds)
	handshakeLatency *Histogram
	readLatency      *Histogram
	writeLatency     *Histogram

	// Creation time for uptime tracking
	createdAt time.Time

	// Labels for this collector instance
	labels Labels

	prom *promMetrics
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// promMetrics holds the Prometheus side of a Collector.
type promMetrics struct {
	registry       *prometheus.Registry
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	sessionsFailed prometheus.Counter
	cycles         prometheus.Counter
	acceptErrors   prometheus.Counter
	attempts       *prometheus.CounterVec
	bytes          *prometheus.CounterVec
	durations      *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector with its own Prometheus
// registry. Labels become constant labels on every exported metric.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		handshakeLatency: NewHistogram(HandshakeLatencyBuckets),
		readLatency:      NewHistogram(LatencyBuckets),
		writeLatency:     NewHistogram(LatencyBuckets),
		createdAt:        time.Now(),
		labels:           labels,
		prom:             newPromMetrics(DefaultNamespace, labels),
	}
}

// promDurationBuckets for exported durations (seconds).
var promDurationBuckets = prometheus.ExponentialBuckets(0.000005, 2.5, 14)

func newPromMetrics(namespace string, labels Labels) *promMetrics {
	constLabels := prometheus.Labels(labels)
	m := &promMetrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Number of sessions currently open", ConstLabels: constLabels,
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Total number of sessions accepted", ConstLabels: constLabels,
		}),
		sessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_failed_total",
			Help: "Total number of sessions that failed their handshake", ConstLabels: constLabels,
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Total number of completed request/response cycles", ConstLabels: constLabels,
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "accept_errors_total",
			Help: "Total number of failed accept calls", ConstLabels: constLabels,
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "attempts_total",
			Help: "Client attempts by outcome", ConstLabels: constLabels,
		}, []string{"outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_total",
			Help: "Application bytes moved over secure streams", ConstLabels: constLabels,
		}, []string{"direction"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "phase_duration_seconds",
			Help: "Duration of handshake, read and write phases", ConstLabels: constLabels,
			Buckets: promDurationBuckets,
		}, []string{"phase"}),
	}
	m.registry.MustRegister(
		m.sessionsActive, m.sessionsTotal, m.sessionsFailed, m.cycles,
		m.acceptErrors, m.attempts, m.bytes, m.durations,
	)
	return m
}

// Registry returns the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.prom.registry
}

// Handler returns an http.Handler that serves the registry in the
// Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.prom.registry, promhttp.HandlerOpts{Registry: c.prom.registry})
}

// --- Session Metrics ---

// SessionStarted increments active and total session counters.
func (c *Collector) SessionStarted() {
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
	c.prom.sessionsActive.Inc()
	c.prom.sessionsTotal.Inc()
}

// SessionEnded decrements active session counter.
func (c *Collector) SessionEnded() {
	for {
		current := c.sessionsActive.Load()
		if current == 0 {
			return
		}
		if c.sessionsActive.CompareAndSwap(current, current-1) {
			c.prom.sessionsActive.Dec()
			return
		}
	}
}

// SessionFailed records a session whose handshake failed.
func (c *Collector) SessionFailed() {
	c.sessionsFailed.Add(1)
	c.prom.sessionsFailed.Inc()
}

// RecordCycle records a completed request/response cycle.
func (c *Collector) RecordCycle() {
	c.cyclesTotal.Add(1)
	c.prom.cycles.Inc()
}

// RecordAcceptError records a failed accept.
func (c *Collector) RecordAcceptError() {
	c.acceptErrors.Add(1)
	c.prom.acceptErrors.Inc()
}

// RecordAttempt records the outcome of one client attempt.
func (c *Collector) RecordAttempt(o Outcome) {
	switch o {
	case OutcomeSuccess:
		c.attemptsSuccess.Add(1)
	case OutcomeBenign:
		c.attemptsBenign.Add(1)
	default:
		o = OutcomeOperational
		c.attemptsOperational.Add(1)
	}
	c.prom.attempts.WithLabelValues(string(o)).Inc()
}

// --- Traffic and Latency Metrics ---

// RecordHandshakeLatency records a handshake duration.
func (c *Collector) RecordHandshakeLatency(d time.Duration) {
	c.handshakeLatency.ObserveDuration(d)
	c.prom.durations.WithLabelValues("handshake").Observe(d.Seconds())
}

// RecordRead records a message read of n bytes taking d.
func (c *Collector) RecordRead(n int, d time.Duration) {
	c.bytesReceived.Add(uint64(n))
	c.readLatency.ObserveDuration(d)
	c.prom.bytes.WithLabelValues("received").Add(float64(n))
	c.prom.durations.WithLabelValues("read").Observe(d.Seconds())
}

// RecordWrite records a message write of n bytes taking d.
func (c *Collector) RecordWrite(n int, d time.Duration) {
	c.bytesSent.Add(uint64(n))
	c.writeLatency.ObserveDuration(d)
	c.prom.bytes.WithLabelValues("sent").Add(float64(n))
	c.prom.durations.WithLabelValues("write").Observe(d.Seconds())
}

// HandshakeLatency returns the in-process handshake histogram.
func (c *Collector) HandshakeLatency() *Histogram {
	return c.handshakeLatency
}

// --- Snapshot ---

// Snapshot returns a point-in-time snapshot of all metrics.
type Snapshot struct {
	// Timestamp of the snapshot
	Timestamp time.Time

	// Uptime since collector creation
	Uptime time.Duration

	// Session metrics
	SessionsActive uint64
	SessionsTotal  uint64
	SessionsFailed uint64
	CyclesTotal    uint64
	AcceptErrors   uint64

	// Attempt outcomes
	AttemptsSuccess     uint64
	AttemptsBenign      uint64
	AttemptsOperational uint64

	// Traffic metrics
	BytesSent     uint64
	BytesReceived uint64

	// Histogram summaries (microseconds)
	HandshakeLatency HistogramSummary
	ReadLatency      HistogramSummary
	WriteLatency     HistogramSummary

	// Labels
	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.createdAt),
		SessionsActive:      c.sessionsActive.Load(),
		SessionsTotal:       c.sessionsTotal.Load(),
		SessionsFailed:      c.sessionsFailed.Load(),
		CyclesTotal:         c.cyclesTotal.Load(),
		AcceptErrors:        c.acceptErrors.Load(),
		AttemptsSuccess:     c.attemptsSuccess.Load(),
		AttemptsBenign:      c.attemptsBenign.Load(),
		AttemptsOperational: c.attemptsOperational.Load(),
		BytesSent:           c.bytesSent.Load(),
		BytesReceived:       c.bytesReceived.Load(),
		HandshakeLatency:    c.handshakeLatency.Summary(),
		ReadLatency:         c.readLatency.Summary(),
		WriteLatency:        c.writeLatency.Summary(),
		Labels:              c.labels,
	}
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the global metrics collector.
// Creates one with default settings if not already initialized.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		if globalCollector == nil {
			globalCollector = NewCollector(Labels{"instance": "default"})
		}
	})
	return globalCollector
}

// SetGlobal sets the global metrics collector.
// Should be called during initialization before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollectorOnce.Do(func() {})
	globalCollector = c
}
