// Package redisstore keeps each conversation's persisted message copy as one
// JSON snapshot in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/support-widget/internal/chat"
)

// Client is the subset of redis.Cmdable the store uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Store struct {
	client Client
	ttl    time.Duration
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// New returns a store whose snapshots expire ttl after their last write.
// A zero ttl keeps them forever.
func New(client Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func messagesKey(conversationID string) string {
	return "support:conversation:" + conversationID + ":messages"
}

type snapshot struct {
	Messages  []chat.Message `json:"messages"`
	Reason    string         `json:"reason,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Conversation is the persistence provider of one conversation.
type Conversation struct {
	store *Store
	key   string
}

func (s *Store) ForConversation(conversationID string) *Conversation {
	return &Conversation{store: s, key: messagesKey(conversationID)}
}

func (c *Conversation) LoadConversationState(ctx context.Context) (chat.Snapshot, error) {
	raw, err := c.store.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Snapshot{}, nil
	}
	if err != nil {
		return chat.Snapshot{}, err
	}
	var doc snapshot
	if err := json.Unmarshal(raw, &doc); err != nil {
		return chat.Snapshot{}, err
	}
	return chat.Snapshot{Messages: doc.Messages}, nil
}

func (c *Conversation) UpdateMessages(ctx context.Context, msgs []chat.Message, reason string) error {
	b, err := json.Marshal(snapshot{Messages: msgs, Reason: reason, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.store.client.Set(ctx, c.key, b, c.store.ttl).Err()
}

func (c *Conversation) ClearConversation(ctx context.Context) error {
	return c.store.client.Del(ctx, c.key).Err()
}
