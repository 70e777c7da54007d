package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/assistant-relay/internal/chat"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// Client exposes the connection for the rate limiter's script calls.
func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Close() error { return s.rdb.Close() }

func revokedKey(tokenHash string) string { return "jwt:blacklist:" + tokenHash }

// RevokeToken blocks a token until it would have expired anyway.
func (s *Store) RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, revokedKey(tokenHash), "1", ttl).Err()
}

func (s *Store) IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.rdb.Exists(ctx, revokedKey(tokenHash)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

// PublishMessage announces a persisted message to the conversation's subscribers.
func (s *Store) PublishMessage(ctx context.Context, m chat.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, ConversationChannel(m.ConversationID), data).Err()
}

// SubscribeConversation returns a subscription the caller must close.
func (s *Store) SubscribeConversation(ctx context.Context, conversationID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, ConversationChannel(conversationID))
}
