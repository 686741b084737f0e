package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/harbor_fanout/internal/delivery"
)

// Producer is the part of *nsq.Producer used to publish dead letters.
type Producer interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQPublisher publishes dead letters as JSON messages on an NSQ topic.
type NSQPublisher struct {
	prod  Producer
	topic string
}

// NewNSQPublisher connects a producer to the nsqd at addr.
func NewNSQPublisher(addr, topic string) (*NSQPublisher, error) {
	prod, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	prod.SetLoggerLevel(nsq.LogLevelWarning)
	return NewNSQPublisherWithProducer(prod, topic), nil
}

func NewNSQPublisherWithProducer(p Producer, topic string) *NSQPublisher {
	return &NSQPublisher{prod: p, topic: topic}
}

func (p *NSQPublisher) Topic() string { return p.topic }

// Publish encodes dl and publishes it. The producer call itself cannot be
// cancelled, so ctx is only checked before sending.
func (p *NSQPublisher) Publish(ctx context.Context, dl delivery.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := p.prod.Publish(p.topic, b); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *NSQPublisher) Close() error {
	p.prod.Stop()
	return nil
}
