package loadgen

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pzverkov/pqtls-bench/pkg/metrics"
)

// Reporter periodically prints cumulative throughput to the console.
type Reporter struct {
	counters  *Counters
	out       io.Writer
	interval  time.Duration
	handshake *metrics.Histogram
	start     time.Time
}

// NewReporter creates a reporter over counters. handshake may be nil, in
// which case lines carry no latency summary.
func NewReporter(counters *Counters, out io.Writer, interval time.Duration, handshake *metrics.Histogram) *Reporter {
	return &Reporter{
		counters:  counters,
		out:       out,
		interval:  interval,
		handshake: handshake,
	}
}

// Line formats the report for elapsed time since the run started.
// Throughput is (success+failure) / elapsed seconds.
func (r *Reporter) Line(elapsed time.Duration) string {
	success, failure := r.counters.Snapshot()
	var tps float64
	if secs := elapsed.Seconds(); secs > 0 {
		tps = float64(success+failure) / secs
	}
	line := fmt.Sprintf("[-] Successful Request: %d | Failed Request: %d | TPS : %.2f req/s", success, failure, tps)

	if r.handshake != nil && r.handshake.Count() > 0 {
		line += fmt.Sprintf(" | Handshake mean: %s p99: %s",
			metrics.Duration(r.handshake.Mean()).Round(time.Microsecond),
			metrics.Duration(r.handshake.Percentile(0.99)).Round(time.Microsecond))
	}
	return line
}

// Run prints a line every interval until ctx is done, then prints a final
// cumulative line. Elapsed time is measured from the call to Run.
func (r *Reporter) Run(ctx context.Context) {
	r.start = time.Now()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.print()
			return
		case <-ticker.C:
			r.print()
		}
	}
}

func (r *Reporter) print() {
	_, _ = fmt.Fprintln(r.out, r.Line(time.Since(r.start)))
}
