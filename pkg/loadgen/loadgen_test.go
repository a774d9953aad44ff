package loadgen

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
)

// scriptedAttempter fails every failEvery-th attempt and counts calls.
type scriptedAttempter struct {
	calls     atomic.Int64
	failEvery int64
}

func (s *scriptedAttempter) Attempt(ctx context.Context) error {
	n := s.calls.Add(1)
	if s.failEvery > 0 && n%s.failEvery == 0 {
		return errors.New("scripted failure")
	}
	return nil
}

// lockedBuffer lets the reporter goroutine and the test share output.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCounters(t *testing.T) {
	var c Counters
	c.Add(nil)
	c.Add(nil)
	c.Add(errors.New("refused"))

	s, f := c.Snapshot()
	assert.Equal(t, uint64(2), s)
	assert.Equal(t, uint64(1), f)
	assert.Equal(t, uint64(3), c.Total())
	assert.Equal(t, s, c.Success())
	assert.Equal(t, f, c.Failure())
}

func TestCountersConcurrent(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if j%2 == 0 {
					c.Add(nil)
				} else {
					c.Add(errors.New("x"))
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(4000), c.Success())
	assert.Equal(t, uint64(4000), c.Failure())
}

func TestReporterLine(t *testing.T) {
	var c Counters
	for i := 0; i < 3; i++ {
		c.Add(nil)
	}
	c.Add(errors.New("x"))

	r := NewReporter(&c, nil, time.Second, nil)
	assert.Equal(t,
		"[-] Successful Request: 3 | Failed Request: 1 | TPS : 2.00 req/s",
		r.Line(2*time.Second))
	assert.Contains(t, r.Line(0), "TPS : 0.00 req/s", "zero elapsed must not divide by zero")

	h := metrics.NewHistogram(metrics.HandshakeLatencyBuckets)
	h.ObserveDuration(800 * time.Microsecond)
	r = NewReporter(&c, nil, time.Second, h)
	line := r.Line(time.Second)
	assert.True(t, strings.HasPrefix(line, "[-] Successful Request: 3 | Failed Request: 1 | TPS : 4.00 req/s"))
	assert.Contains(t, line, "| Handshake mean: 800µs p99:")
}

func TestReporterRun(t *testing.T) {
	var c Counters
	c.Add(nil)
	out := &lockedBuffer{}
	r := NewReporter(&c, out, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.GreaterOrEqual(t, len(lines), 3, "periodic lines plus a final line")
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "[-] Successful Request: 1 | Failed Request: 0 | TPS : "), l)
	}
}

// Setup time between NewReporter and Run must not dilute throughput.
func TestReporterElapsedStartsAtRun(t *testing.T) {
	var c Counters
	c.Add(nil)
	out := &lockedBuffer{}
	r := NewReporter(&c, out, time.Hour, nil)
	time.Sleep(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	m := regexp.MustCompile(`TPS : ([0-9.]+) req/s`).FindStringSubmatch(out.String())
	require.Len(t, m, 2, out.String())
	tps, err := strconv.ParseFloat(m[1], 64)
	require.NoError(t, err)
	assert.Greater(t, tps, 6.0, "1 attempt over roughly 50ms, not 350ms")
}

func TestHarnessCountsEveryAttempt(t *testing.T) {
	const workers, attempts = 4, 30
	fakes := make([]*scriptedAttempter, workers)
	attempters := make([]Attempter, workers)
	for i := range fakes {
		fakes[i] = &scriptedAttempter{failEvery: 3}
		attempters[i] = fakes[i]
	}

	out := &lockedBuffer{}
	h := FromAttempters(attempters, Config{
		MaxAttempts: attempts,
		Out:         out,
		Logger:      metrics.NullLogger(),
		Collector:   metrics.NewCollector(nil),
	})
	require.NoError(t, h.Run(context.Background()))

	s, f := h.Counters().Snapshot()
	assert.Equal(t, uint64(workers*attempts), s+f)
	assert.Equal(t, uint64(workers*10), f, "every third attempt fails")
	for _, fake := range fakes {
		assert.Equal(t, int64(attempts), fake.calls.Load())
	}
	assert.Contains(t, out.String(), "Successful Request: 80 | Failed Request: 40", "final line carries the totals")
}

func TestHarnessCancelKeepsCountsExact(t *testing.T) {
	fakes := []*scriptedAttempter{{failEvery: 2}, {failEvery: 5}}
	h := FromAttempters([]Attempter{fakes[0], fakes[1]}, Config{
		Out:       &lockedBuffer{},
		Logger:    metrics.NullLogger(),
		Collector: metrics.NewCollector(nil),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, h.Run(ctx))

	calls := fakes[0].calls.Load() + fakes[1].calls.Load()
	assert.Positive(t, calls)
	assert.Equal(t, uint64(calls), h.Counters().Total())
}

func TestHarnessRateLimit(t *testing.T) {
	fake := &scriptedAttempter{}
	h := FromAttempters([]Attempter{fake}, Config{
		Rate:      50,
		Out:       &lockedBuffer{},
		Logger:    metrics.NullLogger(),
		Collector: metrics.NewCollector(nil),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, h.Run(ctx))

	// 50/s for 0.2s with a burst of one: roughly ten attempts, never hundreds.
	assert.LessOrEqual(t, fake.calls.Load(), int64(15))
	assert.Positive(t, fake.calls.Load())
}

func TestNewDefaults(t *testing.T) {
	h, err := New(Config{
		Host:        "127.0.0.1",
		Port:        4433,
		Concurrency: 3,
		Group:       "x25519_mlkem768",
		PayloadSize: 100,
		Recorder:    latency.NewMemory(),
	})
	require.NoError(t, err)
	assert.Len(t, h.workers, 3)
	assert.Nil(t, h.limiter)
	assert.Equal(t, constants.DefaultReportInterval, h.reporter.interval)
}
