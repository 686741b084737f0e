package delivery

import "sync/atomic"

// QueueStats is the point-in-time state of one priority.
type QueueStats struct {
	Queued int64 `json:"queued"`
}

// Counters tracks outstanding tasks per priority. A task counts from enqueue
// until its terminal outcome, including while it is being delivered or waiting
// to be retried.
type Counters struct {
	queued [2]atomic.Int64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) enqueue(p Priority) {
	c.queued[p].Add(1)
}

// resolve records a terminal outcome (or a rejected admission).
func (c *Counters) resolve(p Priority) {
	for {
		cur := c.queued[p].Load()
		if cur <= 0 {
			return
		}
		if c.queued[p].CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Queued returns the current depth of p, or zero for an unknown priority.
func (c *Counters) Queued(p Priority) int64 {
	if p < 0 || int(p) >= len(c.queued) {
		return 0
	}
	return c.queued[p].Load()
}

// Snapshot returns the depth of every priority keyed by name.
func (c *Counters) Snapshot() map[string]QueueStats {
	out := make(map[string]QueueStats, len(Priorities))
	for _, p := range Priorities {
		out[p.String()] = QueueStats{Queued: c.Queued(p)}
	}
	return out
}
