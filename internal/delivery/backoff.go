package delivery

import (
	"context"
	"math/rand/v2"
	"runtime"
	"time"
)

// Backoff is the wait between a failed attempt and its requeue.
type Backoff struct {
	Schedule  []time.Duration
	JitterPct float64
}

// Delay returns the wait before attempt number attempt (2 for the first retry).
func (b Backoff) Delay(attempt int) time.Duration {
	if len(b.Schedule) == 0 {
		return 0
	}
	// first retry maps to schedule[0]
	idx := attempt - 2
	if idx < 0 {
		idx = 0
	}
	if idx >= len(b.Schedule) {
		idx = len(b.Schedule) - 1
	}
	base := b.Schedule[idx]
	if base <= 0 || b.JitterPct <= 0 {
		return base
	}
	j := 1 + (rand.Float64()*2-1)*b.JitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

// wait sleeps for the delay of attempt, or yields the processor when the delay
// is zero. It returns early when ctx is done.
func (b Backoff) wait(ctx context.Context, attempt int) {
	d := b.Delay(attempt)
	if d <= 0 {
		runtime.Gosched()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
