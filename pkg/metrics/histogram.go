package metrics

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// Bucket bounds for the in-process latency histograms, in microseconds.
var (
	HandshakeLatencyBuckets = []float64{250, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000, 250000, 1000000}
	LatencyBuckets          = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 25000, 100000}
)

// Histogram is a fixed-bucket histogram that can answer quantile queries in
// process, which the Prometheus client cannot. Latency histograms hold
// microseconds. Safe for concurrent use.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // one per bound plus the overflow bucket
	n      uint64
	sum    float64
	lo, hi float64
}

// NewHistogram creates a histogram over bounds. The bounds are copied and
// sorted.
func NewHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b)+1)}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	if h.n == 0 || v < h.lo {
		h.lo = v
	}
	if h.n == 0 || v > h.hi {
		h.hi = v
	}
	h.n++
	h.sum += v
}

// ObserveDuration records d in microseconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(float64(d) / float64(time.Microsecond))
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

// Mean returns the mean observation, zero when empty.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mean()
}

// Percentile estimates the value at quantile q in [0, 1]. Estimates are
// interpolated inside a bucket and never leave the observed range.
func (h *Histogram) Percentile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quantile(q)
}

func (h *Histogram) mean() float64 {
	if h.n == 0 {
		return 0
	}
	return h.sum / float64(h.n)
}

func (h *Histogram) quantile(q float64) float64 {
	if h.n == 0 {
		return 0
	}
	if q <= 0 {
		return h.lo
	}
	if q >= 1 {
		return h.hi
	}

	rank := q * float64(h.n)
	var seen uint64
	for i, c := range h.counts {
		if c == 0 || float64(seen+c) < rank {
			seen += c
			continue
		}
		lower, upper := h.lo, h.hi
		if i > 0 {
			lower = math.Max(lower, h.bounds[i-1])
		}
		if i < len(h.bounds) {
			upper = math.Min(upper, h.bounds[i])
		}
		return lower + (rank-float64(seen))/float64(c)*(upper-lower)
	}
	return h.hi
}

// Bucket is one cumulative bucket of a summary.
type Bucket struct {
	Le    float64 `json:"le"`
	Count uint64  `json:"count"`
}

// HistogramSummary is a point-in-time view of a Histogram.
type HistogramSummary struct {
	Count   uint64   `json:"count"`
	Sum     float64  `json:"sum"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Mean    float64  `json:"mean"`
	P50     float64  `json:"p50"`
	P90     float64  `json:"p90"`
	P99     float64  `json:"p99"`
	Buckets []Bucket `json:"buckets,omitempty"`
}

// Summary returns the current summary. Buckets are cumulative and end with
// +Inf.
func (h *Histogram) Summary() HistogramSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n == 0 {
		return HistogramSummary{}
	}

	buckets := make([]Bucket, len(h.counts))
	var acc uint64
	for i, c := range h.counts {
		acc += c
		le := math.Inf(1)
		if i < len(h.bounds) {
			le = h.bounds[i]
		}
		buckets[i] = Bucket{Le: le, Count: acc}
	}

	return HistogramSummary{
		Count:   h.n,
		Sum:     h.sum,
		Min:     h.lo,
		Max:     h.hi,
		Mean:    h.mean(),
		P50:     h.quantile(0.50),
		P90:     h.quantile(0.90),
		P99:     h.quantile(0.99),
		Buckets: buckets,
	}
}

// Duration converts a microsecond value from a latency histogram.
func Duration(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}
