package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 3 * time.Second

// Publisher sends events to the durable queue named after their topic on
// the default exchange. It dials per publish, so a broker outage only
// costs the events published during it.
type Publisher struct {
	url string
	log *log.Helper
}

func NewPublisher(url string, logger log.Logger) *Publisher {
	return &Publisher{url: url, log: log.NewHelper(log.With(logger, "module", "queue/publisher"))}
}

// Publish marshals event as JSON and publishes it persistently. Errors are
// logged and returned; callers treat them as non-fatal.
func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		p.log.Warnf("dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warnf("channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch, topic); err != nil {
		p.log.Warnf("queue declare %s failed: %v", topic, err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         topic,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", topic, false, false, pub); err != nil {
		p.log.Warnf("publish %s failed: %v", topic, err)
		return err
	}
	return nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(topic, true, false, false, false, nil)
	return err
}
