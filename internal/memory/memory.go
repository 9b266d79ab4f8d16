// Package memory keeps short-lived per-user conversation history used to
// ground streamed prompts. It is best-effort state: losing it degrades prompt
// quality, never correctness.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Store records and recalls recent conversation messages per user.
type Store interface {
	// AppendUserMessage records a message the user sent.
	AppendUserMessage(ctx context.Context, userID, text string) error
	// AppendBotMessage records a response the bot produced.
	AppendBotMessage(ctx context.Context, userID, text string) error
	// Recent returns up to n formatted messages, oldest first.
	Recent(ctx context.Context, userID string, n int) ([]string, error)
}

// InMemory is a process-local Store used for development and tests. Entries
// for a user expire as a whole once the TTL passes without activity.
type InMemory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	users map[string]*userLog
}

type userLog struct {
	messages *list.List // of string
	touched  time.Time
}

const maxKeptMessages = 50

// NewInMemory creates an InMemory store. ttl <= 0 disables expiry.
func NewInMemory(ttl time.Duration) *InMemory {
	return &InMemory{ttl: ttl, now: time.Now, users: make(map[string]*userLog)}
}

func (m *InMemory) AppendUserMessage(_ context.Context, userID, text string) error {
	m.append(userID, "User: "+text)
	return nil
}

func (m *InMemory) AppendBotMessage(_ context.Context, userID, text string) error {
	m.append(userID, "Assistant: "+text)
	return nil
}

func (m *InMemory) Recent(_ context.Context, userID string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log, ok := m.users[userID]
	if !ok || m.expired(log) {
		delete(m.users, userID)
		return nil, nil
	}

	total := log.messages.Len()
	if n > total {
		n = total
	}
	out := make([]string, 0, n)
	e := log.messages.Front()
	for range total - n {
		e = e.Next()
	}
	for ; e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out, nil
}

func (m *InMemory) append(userID, formatted string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log, ok := m.users[userID]
	if !ok || m.expired(log) {
		log = &userLog{messages: list.New()}
		m.users[userID] = log
	}
	log.messages.PushBack(formatted)
	for log.messages.Len() > maxKeptMessages {
		log.messages.Remove(log.messages.Front())
	}
	log.touched = m.now()
}

func (m *InMemory) expired(log *userLog) bool {
	return m.ttl > 0 && m.now().Sub(log.touched) > m.ttl
}
