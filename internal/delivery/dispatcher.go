package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_fanout/internal/logging"
	"github.com/austindbirch/harbor_fanout/internal/metrics"
	"github.com/austindbirch/harbor_fanout/internal/tracing"
)

// ErrDispatcherRunning is returned by Start on a dispatcher that is already running.
var ErrDispatcherRunning = errors.New("dispatcher already running")

const (
	DefaultWorkers    = 16
	DefaultRetryCount = 3

	deadLetterTimeout = 5 * time.Second
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithBackoff sets the wait between a failed attempt and its requeue.
func WithBackoff(b Backoff) Option {
	return func(d *Dispatcher) { d.backoff = b }
}

// WithDeadLetterSink publishes every retry-exhausted task to s.
func WithDeadLetterSink(s DeadLetterSink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// WithLogger replaces the dispatcher's logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher drains the queues with a fixed pool of workers. Each worker takes
// the next task (High first), delivers it, and either resolves it or puts a
// retry copy back on the same queue. A separate goroutine serves flush signals.
type Dispatcher struct {
	queues    *Queues
	log       *TargetLog
	deliverer Deliverer
	workers   int
	backoff   Backoff
	sink      DeadLetterSink
	logger    *logging.Logger

	flush   chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewDispatcher(q *Queues, log *TargetLog, d Deliverer, opts ...Option) *Dispatcher {
	if log == nil {
		log = NewTargetLog()
	}
	disp := &Dispatcher{
		queues:    q,
		log:       log,
		deliverer: d,
		workers:   DefaultWorkers,
		logger:    logging.New("harborfanout-dispatcher"),
		flush:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(disp)
	}
	return disp
}

func (d *Dispatcher) TargetLog() *TargetLog { return d.log }

func (d *Dispatcher) Queues() *Queues { return d.queues }

// Running reports whether workers are active.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// Workers returns the configured pool size.
func (d *Dispatcher) Workers() int { return d.workers }

// Start launches the workers and the flush controller. They stop taking new
// tasks when ctx is done; a delivery already in progress runs to completion.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrDispatcherRunning
	}
	d.wg.Add(d.workers + 1)
	for i := 0; i < d.workers; i++ {
		go d.worker(ctx)
	}
	go d.flushLoop(ctx)

	go func() {
		d.wg.Wait()
		d.running.Store(false)
	}()

	d.logger.Plain().WithFields(map[string]any{
		"workers": d.workers,
	}).Info("dispatcher started")
	return nil
}

// Wait blocks until every goroutine started by Start has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// FlushLowPriority asks the flush controller to drop the queued Low tasks and
// returns without waiting. Signals sent while one is pending are merged.
func (d *Dispatcher) FlushLowPriority() {
	select {
	case d.flush <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) flushLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.flush:
			n := d.queues.FlushLow()
			metrics.RecordDropped(Low.String(), "flushed", n)
			d.logger.Plain().WithPriority(Low.String()).WithField("dropped", n).Info("flushed low priority queue")
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		t, err := d.queues.Dequeue(ctx)
		if err != nil {
			return
		}
		d.process(ctx, t)
	}
}

// process runs one attempt of t and applies its outcome.
func (d *Dispatcher) process(ctx context.Context, t *Task) {
	// shutdown stops the loop, not a delivery in flight
	dctx := context.WithoutCancel(ctx)
	if t.Request != nil && len(t.Request.TraceHeaders) > 0 {
		dctx = tracing.ExtractTrace(dctx, t.Request.TraceHeaders)
	}
	dctx, span := tracing.StartSpan(dctx, "dispatcher.deliver",
		attribute.String("target", t.Target),
		attribute.String("priority", t.Priority.String()),
		attribute.Int("attempt", t.Attempt),
		attribute.Int("remaining", t.Remaining),
	)
	defer span.End()

	d.log.RecordAttempt(t.Target)
	start := time.Now()
	out := attempt(dctx, d.deliverer, t)
	latency := time.Since(start)

	switch out.Kind {
	case OutcomeSuccess:
		tracing.AddSpanEvent(dctx, "delivery.success")
		metrics.RecordAttempt(t.Priority.String(), "delivered", latency)
		d.log.RecordSuccess(t.Target)
		d.queues.counters.resolve(t.Priority)
		d.entry(dctx, t).WithField("latency_ms", latency.Milliseconds()).Debug("delivered")

	case OutcomeRetry:
		tracing.SetSpanError(dctx, out.Err)
		metrics.RecordAttempt(t.Priority.String(), "failed", latency)
		d.retry(ctx, dctx, t, out)

	case OutcomeExhausted:
		tracing.SetSpanError(dctx, out.Err)
		metrics.RecordAttempt(t.Priority.String(), "failed", latency)
		d.exhaust(dctx, t, out.Err, 0)
	}
}

// retry waits out the backoff and requeues the next copy of t. A full queue
// spends another attempt; when the budget runs out the task is dropped.
func (d *Dispatcher) retry(ctx, dctx context.Context, t *Task, out Outcome) {
	next := t.next(out.Remaining)
	err := out.Err
	requeueFailures := 0
	for {
		reason := ClassifyReason(err)
		metrics.RecordRetry(reason)
		d.backoff.wait(ctx, next.Attempt)

		rerr := d.queues.requeue(next)
		if rerr == nil {
			tracing.AddSpanEvent(dctx, "delivery.requeue", attribute.Int("next_attempt", next.Attempt))
			d.entry(dctx, t).WithError(err).WithFields(map[string]any{
				"reason":       reason,
				"next_attempt": next.Attempt,
				"remaining":    next.Remaining,
			}).Debug("requeue delivery")
			return
		}

		err = rerr
		requeueFailures++
		o := failed(next.Remaining, rerr)
		if o.Kind == OutcomeExhausted {
			d.exhaust(dctx, t, rerr, requeueFailures)
			return
		}
		next.Remaining = o.Remaining
	}
}

// exhaust resolves t as a terminal failure. requeueFailures counts the budget
// spent on a full queue rather than on deliveries.
func (d *Dispatcher) exhaust(ctx context.Context, t *Task, err error, requeueFailures int) {
	reason := ClassifyReason(err)
	d.log.RecordFailure(t.Target)
	d.queues.counters.resolve(t.Priority)
	metrics.RecordDropped(t.Priority.String(), "exhausted", 1)
	tracing.AddSpanEvent(ctx, "delivery.dlq", attribute.String("reason", reason))

	d.entry(ctx, t).WithError(err).WithFields(map[string]any{
		"reason":           reason,
		"requeue_failures": requeueFailures,
	}).Warn("delivery dropped after exhausting retries")

	if d.sink == nil {
		return
	}
	dl := NewDeadLetter(t, t.Attempt, StatusCode(err), errString(err), exhaustReason(t.Attempt, requeueFailures))
	dl.RequeueFailures = requeueFailures
	pctx, cancel := context.WithTimeout(ctx, deadLetterTimeout)
	defer cancel()
	if perr := d.sink.Publish(pctx, dl); perr != nil {
		tracing.SetSpanError(ctx, perr)
		d.entry(ctx, t).WithError(perr).Error("dead letter publish failed")
		return
	}
	metrics.RecordDLQ(reason)
}

func (d *Dispatcher) entry(ctx context.Context, t *Task) *logging.LogEntry {
	e := d.logger.WithContext(ctx).WithTarget(t.Target).WithPriority(t.Priority.String()).WithField("attempt", t.Attempt)
	if t.Request != nil && t.Request.RequestID != "" {
		e = e.WithRequest(t.Request.RequestID)
	}
	return e
}

func exhaustReason(attempts, requeueFailures int) string {
	if requeueFailures == 0 {
		return fmt.Sprintf("max attempts reached (%d)", attempts)
	}
	return fmt.Sprintf("max attempts reached (%d delivered, %d requeue failures)", attempts, requeueFailures)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
