package loadgen

import "sync/atomic"

// Counters holds the cumulative attempt outcomes shared by all workers.
// Counts are monotonic for the life of a run and never reset.
type Counters struct {
	success atomic.Uint64
	failure atomic.Uint64
}

// Add counts one finished attempt: success when err is nil, failure otherwise.
func (c *Counters) Add(err error) {
	if err == nil {
		c.success.Add(1)
		return
	}
	c.failure.Add(1)
}

// Success returns the number of successful attempts.
func (c *Counters) Success() uint64 {
	return c.success.Load()
}

// Failure returns the number of failed attempts.
func (c *Counters) Failure() uint64 {
	return c.failure.Load()
}

// Snapshot returns both counts.
func (c *Counters) Snapshot() (success, failure uint64) {
	return c.success.Load(), c.failure.Load()
}

// Total returns the number of finished attempts.
func (c *Counters) Total() uint64 {
	s, f := c.Snapshot()
	return s + f
}
