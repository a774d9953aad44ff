package metrics

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Status is the overall verdict of a health report.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// DefaultMaxOperationalRatio is the share of operational attempt failures
// above which a run reports degraded. Benign teardowns never count.
const DefaultMaxOperationalRatio = 0.01

// Check returns nil while the checked resource is usable.
type Check func() error

// Health evaluates named checks plus the collector's traffic.
type Health struct {
	collector *Collector
	version   string
	started   time.Time
	maxRatio  float64

	mu     sync.RWMutex
	names  []string
	checks map[string]Check
}

// NewHealth creates a health evaluator. collector may be nil.
func NewHealth(collector *Collector, version string) *Health {
	return &Health{
		collector: collector,
		version:   version,
		started:   time.Now(),
		maxRatio:  DefaultMaxOperationalRatio,
		checks:    make(map[string]Check),
	}
}

// Register adds or replaces the check called name. Reports list checks in
// registration order.
func (h *Health) Register(name string, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = c
}

// CheckReport is the outcome of one check.
type CheckReport struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Took  string `json:"took"`
}

// Traffic summarizes the collector for health consumers.
type Traffic struct {
	SessionsActive   uint64  `json:"sessions_active"`
	SessionsTotal    uint64  `json:"sessions_total"`
	Cycles           uint64  `json:"cycles"`
	Attempts         uint64  `json:"attempts"`
	OperationalRatio float64 `json:"operational_ratio"`
}

// Report is the body of /health.
type Report struct {
	Status  Status        `json:"status"`
	Version string        `json:"version,omitempty"`
	Uptime  string        `json:"uptime"`
	Checks  []CheckReport `json:"checks,omitempty"`
	Traffic *Traffic      `json:"traffic,omitempty"`
}

// Report runs every check. A failing check makes the run down; an
// operational failure ratio above the threshold makes it degraded.
func (h *Health) Report() Report {
	h.mu.RLock()
	names := append([]string(nil), h.names...)
	checks := make([]Check, len(names))
	for i, n := range names {
		checks[i] = h.checks[n]
	}
	h.mu.RUnlock()

	rep := Report{
		Status:  StatusOK,
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}

	for i, c := range checks {
		start := time.Now()
		err := c()
		cr := CheckReport{Name: names[i], OK: err == nil, Took: time.Since(start).String()}
		if err != nil {
			cr.Error = err.Error()
			rep.Status = StatusDown
		}
		rep.Checks = append(rep.Checks, cr)
	}

	if h.collector != nil {
		snap := h.collector.Snapshot()
		t := &Traffic{
			SessionsActive: snap.SessionsActive,
			SessionsTotal:  snap.SessionsTotal,
			Cycles:         snap.CyclesTotal,
			Attempts:       snap.AttemptsSuccess + snap.AttemptsBenign + snap.AttemptsOperational,
		}
		if t.Attempts > 0 {
			t.OperationalRatio = float64(snap.AttemptsOperational) / float64(t.Attempts)
		}
		if rep.Status == StatusOK && t.OperationalRatio > h.maxRatio {
			rep.Status = StatusDegraded
		}
		rep.Traffic = t
	}
	return rep
}

// HeapCheck fails while the live Go heap exceeds limit bytes.
func HeapCheck(limit uint64) Check {
	return func() error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapAlloc > limit {
			return fmt.Errorf("heap %d bytes exceeds limit %d", ms.HeapAlloc, limit)
		}
		return nil
	}
}

// ListenerCheck fails while ready reports false.
func ListenerCheck(ready func() bool) Check {
	return func() error {
		if !ready() {
			return errors.New("listener not accepting")
		}
		return nil
	}
}
