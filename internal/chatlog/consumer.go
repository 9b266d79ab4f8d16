package chatlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chatgate/chatgate/internal/storage"
)

const reconnectDelay = 5 * time.Second

// outcome is the consumer's per-message verdict.
type outcome int

const (
	// outcomeAck: persisted (or already persisted), remove from queue.
	outcomeAck outcome = iota
	// outcomeDrop: poison message, reject without requeue.
	outcomeDrop
	// outcomeRequeue: transient failure, give another consumer attempt a
	// chance.
	outcomeRequeue
)

// Consumer pulls interaction records from the durable queue and persists
// them. It runs as a single long-lived background task and survives broker
// outages by reconnecting with a fixed backoff until its context is
// cancelled.
type Consumer struct {
	url       string
	queueName string
	store     storage.HistoryStore
	logger    *slog.Logger
}

// NewConsumer creates a Consumer reading queueName on the broker at url and
// writing to store.
func NewConsumer(url, queueName string, store storage.HistoryStore, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{url: url, queueName: queueName, store: store, logger: logger}
}

// Run consumes until ctx is cancelled. Connection-level failures trigger a
// reconnect after a fixed delay; the in-flight message always finishes
// (acked or rejected) before shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Error("consumer disconnected", "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// consume holds one broker session: connect, declare, then process deliveries
// until the channel dies or ctx is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue: %w", err)
	}
	// One unacked message at a time: processing is a single store insert, so
	// prefetching buys nothing and complicates shutdown.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	c.logger.Info("history consumer started", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	switch c.process(ctx, d.Body) {
	case outcomeAck:
		if err := d.Ack(false); err != nil {
			c.logger.Error("ack failed", "error", err)
		}
	case outcomeDrop:
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("reject failed", "error", err)
		}
	case outcomeRequeue:
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("requeue failed", "error", err)
		}
	}
}

// process classifies one message body: poison messages are dropped, transient
// store failures requeued, everything else acked after the idempotent insert.
func (c *Consumer) process(ctx context.Context, body []byte) outcome {
	rec, err := ParseRecord(body)
	if err != nil {
		c.logger.Error("dropping malformed message", "error", err)
		return outcomeDrop
	}
	if err := rec.Validate(); err != nil {
		c.logger.Error("dropping invalid record", "error", err)
		return outcomeDrop
	}

	in, err := rec.Interaction()
	if err != nil {
		c.logger.Error("dropping unconvertible record", "error", err)
		return outcomeDrop
	}

	if err := c.store.SaveInteraction(ctx, in); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			c.logger.Warn("store unavailable, requeueing record", "user_id", in.UserID, "error", err)
			return outcomeRequeue
		}
		c.logger.Error("dropping unpersistable record", "user_id", in.UserID, "error", err)
		return outcomeDrop
	}

	c.logger.Info("interaction persisted", "user_id", in.UserID)
	return outcomeAck
}
