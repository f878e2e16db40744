package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Topics lists every queue the audit consumer drains.
var Topics = []string{TopicBookingConfirmed, TopicBookingCancelled, TopicHoldExpired}

const auditFile = "booking.log"

// AuditConsumer appends one line per lifecycle event to <dir>/booking.log.
type AuditConsumer struct {
	url string
	dir string
	log *log.Helper
	mu  sync.Mutex
}

func NewAuditConsumer(url, dir string, logger log.Logger) *AuditConsumer {
	if dir == "" {
		dir = "logs"
	}
	return &AuditConsumer{url: url, dir: dir, log: log.NewHelper(log.With(logger, "module", "queue/consumer"))}
}

// Run connects to the broker and consumes until ctx is done, reconnecting
// with exponential backoff capped at 30s. It returns nil on cancellation.
func (c *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warnf("failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warnf("consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warnf("set QoS failed: %v", err)
	}

	merged := make(chan amqp.Delivery)
	var wg sync.WaitGroup
	for _, topic := range Topics {
		if err := declare(ch, topic); err != nil {
			return fmt.Errorf("queue declare %s: %w", topic, err)
		}
		msgs, err := ch.Consume(topic, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", topic, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range msgs {
				select {
				case merged <- d:
				case <-ctx.Done():
					_ = d.Nack(false, true)
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-merged:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.RoutingKey, d.Body); err != nil {
				c.log.Errorf("handle %s message failed: %v", d.RoutingKey, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle formats one message and appends it to the audit file.
func (c *AuditConsumer) Handle(topic string, body []byte) error {
	line, err := FormatAuditLine(topic, body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.dir, auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func seatList(ids []string) string {
	return "[" + strings.Join(ids, ",") + "]"
}

// FormatAuditLine renders an event as a single newline-terminated line.
func FormatAuditLine(topic string, body []byte) (string, error) {
	switch topic {
	case TopicBookingConfirmed:
		var ev BookingConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking confirmed | booking_id=%s | ref=%s | schedule_id=%s | hold_id=%s | owner=%s | seats=%s | passengers=\"%s\"\n",
			ev.ConfirmedAt, ev.BookingID, ev.Reference, ev.ScheduleID, ev.HoldID, ev.OwnerID, seatList(ev.SeatIDs), strings.Join(ev.Passengers, ", ")), nil
	case TopicBookingCancelled:
		var ev BookingCancelledEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking cancelled | booking_id=%s | ref=%s | schedule_id=%s | seats=%s\n",
			ev.CancelledAt, ev.BookingID, ev.Reference, ev.ScheduleID, seatList(ev.SeatIDs)), nil
	case TopicHoldExpired:
		var ev HoldExpiredEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Hold expired | hold_id=%s | schedule_id=%s | owner=%s | seats=%s\n",
			ev.ExpiredAt, ev.HoldID, ev.ScheduleID, ev.OwnerID, seatList(ev.SeatIDs)), nil
	}
	return "", fmt.Errorf("unknown topic %q", topic)
}
