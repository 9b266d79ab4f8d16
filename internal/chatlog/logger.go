package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishBuffer = 256

// Logger publishes interaction records to the durable queue without ever
// blocking the request path. Log enqueues onto a bounded channel; a single
// worker goroutine owns the AMQP channel and drains it, so concurrent request
// goroutines never touch the broker connection directly. Records are dropped,
// with a log line, when the broker is down or the buffer is full: losing a
// history record must never fail a chat response.
type Logger struct {
	url       string
	queueName string
	logger    *slog.Logger

	records chan Record

	// Broker state, owned by the worker goroutine.
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewLogger creates a Logger publishing to queueName on the broker at url.
// The connection is dialed lazily on first publish.
func NewLogger(url, queueName string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		url:       url,
		queueName: queueName,
		logger:    logger,
		records:   make(chan Record, publishBuffer),
	}
}

// Log enqueues one interaction for publishing. Fire-and-forget: it returns
// immediately, even when the worker is behind or the broker is unreachable.
func (l *Logger) Log(userID, message, response string) {
	rec := NewRecord(userID, message, response)
	select {
	case l.records <- rec:
	default:
		l.logger.Warn("interaction log buffer full, dropping record", "user_id", userID)
	}
}

// Run drains the record buffer until ctx is cancelled, then publishes any
// remaining buffered records and closes the broker connection. Call it from a
// dedicated goroutine.
func (l *Logger) Run(ctx context.Context) {
	defer l.closeBroker()

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case rec := <-l.records:
			l.publishLogged(rec)
		}
	}
}

// drain publishes whatever is still buffered at shutdown, best effort.
func (l *Logger) drain() {
	for {
		select {
		case rec := <-l.records:
			l.publishLogged(rec)
		default:
			return
		}
	}
}

func (l *Logger) publishLogged(rec Record) {
	if err := l.publish(rec); err != nil {
		l.logger.Error("failed to log interaction", "user_id", rec.UserID, "error", err)
	} else {
		l.logger.Info("interaction logged", "user_id", rec.UserID)
	}
}

// publish sends one record with persistent delivery, re-establishing the
// connection once if the first attempt fails on a stale channel.
func (l *Logger) publish(rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	for attempt := range 2 {
		if err = l.ensureChannel(); err != nil {
			return err
		}
		if err = l.send(body); err == nil {
			return nil
		}
		// Stale connection from a broker restart: reset and redial once.
		l.closeBroker()
		if attempt == 0 {
			l.logger.Warn("publish failed, reconnecting to broker", "error", err)
		}
	}
	return fmt.Errorf("publishing record: %w", err)
}

func (l *Logger) send(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return l.ch.PublishWithContext(ctx, "", l.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// ensureChannel lazily dials the broker and declares the durable queue. The
// connection is long-lived and reused across publishes.
func (l *Logger) ensureChannel() error {
	if l.ch != nil {
		return nil
	}

	conn, err := amqp.Dial(l.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(l.queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declaring queue: %w", err)
	}

	l.conn = conn
	l.ch = ch
	return nil
}

func (l *Logger) closeBroker() {
	if l.ch != nil {
		l.ch.Close()
		l.ch = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}
