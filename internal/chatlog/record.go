// Package chatlog moves interaction records from the gateway through a
// durable RabbitMQ queue into the history store. The gateway side never
// blocks on it; the consumer side never loses an ack'd record.
package chatlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chatgate/chatgate/internal/storage"
)

// QueueName is the durable queue carrying interaction records.
const QueueName = "chat_history"

// Record is the wire form of one interaction, as published to the queue.
type Record struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

// NewRecord stamps an interaction with the current UTC time in RFC3339.
func NewRecord(userID, message, response string) Record {
	return Record{
		UserID:    userID,
		Message:   message,
		Response:  response,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// ParseRecord decodes a queue message body.
func ParseRecord(body []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(body, &r); err != nil {
		return Record{}, fmt.Errorf("decoding record: %w", err)
	}
	return r, nil
}

// Validate reports whether the record can ever be persisted. A failure here
// marks the message as poison: redelivery cannot fix a missing field or a
// malformed timestamp. An empty response is allowed; a stream interrupted
// before the first chunk still logs what it has.
func (r Record) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("record missing user_id")
	}
	if r.Message == "" {
		return fmt.Errorf("record missing message")
	}
	if r.Timestamp == "" {
		return fmt.Errorf("record missing timestamp")
	}
	if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		return fmt.Errorf("record timestamp not RFC3339: %w", err)
	}
	return nil
}

// Interaction converts the record to its storage form. Validate must have
// passed.
func (r Record) Interaction() (storage.Interaction, error) {
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return storage.Interaction{}, fmt.Errorf("parsing record timestamp: %w", err)
	}
	return storage.Interaction{
		UserID:    r.UserID,
		Message:   r.Message,
		Response:  r.Response,
		Timestamp: ts,
	}, nil
}
