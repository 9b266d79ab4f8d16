package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chat:"

// Redis is a Store backed by a per-user Redis list with a rolling TTL,
// matching the gateway's ephemeral-session contract: 24h of inactivity drops
// the conversation.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis store from a redis:// URL.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) AppendUserMessage(ctx context.Context, userID, text string) error {
	return r.append(ctx, userID, "User: "+text)
}

func (r *Redis) AppendBotMessage(ctx context.Context, userID, text string) error {
	return r.append(ctx, userID, "Assistant: "+text)
}

func (r *Redis) Recent(ctx context.Context, userID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := r.client.LRange(ctx, keyPrefix+userID, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session memory: %w", err)
	}
	return msgs, nil
}

func (r *Redis) append(ctx context.Context, userID, formatted string) error {
	key := keyPrefix + userID
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, formatted)
	pipe.LTrim(ctx, key, -maxKeptMessages, -1)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending session memory: %w", err)
	}
	return nil
}
