package deadletter

import (
	"context"
	"errors"

	"github.com/austindbirch/harbor_fanout/internal/delivery"
)

// Multi publishes every dead letter to each sink in order. A failing sink does
// not stop the others; their errors are joined.
type Multi []delivery.DeadLetterSink

func (m Multi) Publish(ctx context.Context, dl delivery.DeadLetter) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, dl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sink collapses sinks into one, or nil when there are none.
func Sink(sinks ...delivery.DeadLetterSink) delivery.DeadLetterSink {
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return Multi(sinks)
}
