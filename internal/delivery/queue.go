package delivery

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when a queue has no room for a task.
	ErrQueueFull = errors.New("queue full")
	// ErrUnknownPriority is returned for a task whose priority has no queue.
	ErrUnknownPriority = errors.New("unknown priority")
)

// Queues holds the two bounded FIFO channels and the counters that track them.
// The channels are the only handoff between producers, workers and the flush
// controller, so a task is received by exactly one of them.
type Queues struct {
	high     chan *Task
	low      chan *Task
	counters *Counters
}

// NewQueues creates queues with the given capacities. A capacity below one is
// raised to one.
func NewQueues(highCap, lowCap int, counters *Counters) *Queues {
	if highCap < 1 {
		highCap = 1
	}
	if lowCap < 1 {
		lowCap = 1
	}
	if counters == nil {
		counters = NewCounters()
	}
	return &Queues{
		high:     make(chan *Task, highCap),
		low:      make(chan *Task, lowCap),
		counters: counters,
	}
}

func (q *Queues) Counters() *Counters {
	return q.counters
}

func (q *Queues) channel(p Priority) (chan *Task, error) {
	switch p {
	case High:
		return q.high, nil
	case Low:
		return q.low, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownPriority, int(p))
}

// Len returns the number of tasks waiting in p's channel. Tasks being delivered
// or backing off are not included; see Counters for the outstanding total.
func (q *Queues) Len(p Priority) int {
	ch, err := q.channel(p)
	if err != nil {
		return 0
	}
	return len(ch)
}

// Enqueue admits t onto the queue named by its priority and counts it as queued.
//
// When the queue is full Enqueue waits for room until ctx is done. If ctx can
// never be cancelled (context.Background) it does not wait and fails at once.
// On failure the task is not counted and ErrQueueFull is returned.
func (q *Queues) Enqueue(ctx context.Context, t *Task) error {
	ch, err := q.channel(t.Priority)
	if err != nil {
		return err
	}
	q.counters.enqueue(t.Priority)
	select {
	case ch <- t:
		return nil
	default:
	}
	if ctx.Done() == nil {
		q.counters.resolve(t.Priority)
		return ErrQueueFull
	}
	select {
	case ch <- t:
		return nil
	case <-ctx.Done():
		q.counters.resolve(t.Priority)
		return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
	}
}

// requeue puts a retried task back without waiting. The task is already
// counted, so the counters do not change.
func (q *Queues) requeue(t *Task) error {
	ch, err := q.channel(t.Priority)
	if err != nil {
		return err
	}
	select {
	case ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue returns the next task, preferring High whenever it has one ready.
// It blocks while both queues are empty and returns ctx.Err() once ctx is done.
func (q *Queues) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.high:
		return t, nil
	default:
	}
	select {
	case t := <-q.high:
		return t, nil
	case t := <-q.low:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FlushLow discards the tasks sitting in the Low queue when it is called,
// without delivering them, and returns how many were dropped. Tasks that arrive
// afterwards and tasks already taken by workers are left alone.
func (q *Queues) FlushLow() int {
	n := len(q.low)
	dropped := 0
	for i := 0; i < n; i++ {
		select {
		case <-q.low:
			q.counters.resolve(Low)
			dropped++
		default:
			return dropped
		}
	}
	return dropped
}
