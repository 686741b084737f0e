package delivery

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/austindbirch/harbor_fanout/internal/logging"
)

// Flusher triggers a flush of the Low queue.
type Flusher interface {
	FlushLowPriority()
}

// NewFlushScheduler returns a stopped cron that signals f on every tick of spec.
// spec accepts an optional seconds field and descriptors such as "@every 30s".
func NewFlushScheduler(spec string, f Flusher, logger *logging.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	_, err := c.AddFunc(spec, func() {
		if logger != nil {
			logger.Plain().WithField("spec", spec).Info("scheduled low priority flush")
		}
		f.FlushLowPriority()
	})
	if err != nil {
		return nil, fmt.Errorf("invalid flush schedule %q: %w", spec, err)
	}
	return c, nil
}
