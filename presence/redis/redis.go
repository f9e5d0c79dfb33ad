// Package redis implements core.TypingStore on Redis so typing indicators
// survive process restarts and are shared across instances. Each indicator
// is one key with a TTL; Redis expiry does the cleanup.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/convoq/convoq/core"
)

const keyPrefix = "convoq:typing:"

// Store is a Redis-backed TypingStore wrapping a go-redis v9 client.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client, ttl: 10 * time.Second}
}

// Connect builds a Store from a redis URL and verifies it with a ping.
func Connect(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(client), nil
}

func key(conversationID, userID string) string {
	return keyPrefix + conversationID + ":" + userID
}

// SetTyping implements core.TypingStore.
func (s *Store) SetTyping(ctx context.Context, conversationID, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.client.Set(ctx, key(conversationID, userID), "1", ttl).Err()
}

// ClearTyping implements core.TypingStore; DEL on a missing key is a no-op.
func (s *Store) ClearTyping(ctx context.Context, conversationID, userID string) error {
	return s.client.Del(ctx, key(conversationID, userID)).Err()
}

// ActiveTypers implements core.TypingStore via a prefix scan. The indicator
// population per conversation is tiny, so SCAN cost is negligible.
func (s *Store) ActiveTypers(ctx context.Context, conversationID string) ([]string, error) {
	prefix := keyPrefix + conversationID + ":"
	var (
		users  []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan typing keys: %w", err)
		}
		for _, k := range keys {
			users = append(users, strings.TrimPrefix(k, prefix))
		}
		if next == 0 {
			return users, nil
		}
		cursor = next
	}
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Interface compliance (compile-time assertion).
var _ core.TypingStore = (*Store)(nil)
