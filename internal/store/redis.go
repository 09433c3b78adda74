// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/taskstream/internal/config"
	"github.com/ManuGH/taskstream/internal/log"
)

const redisKeyPrefix = "taskstream:session:"

// RedisStore keeps each session as one JSON value. Appends use an optimistic
// WATCH transaction so two concurrent writers never drop each other's
// message.
type RedisStore struct {
	client *redis.Client
}

// OpenRedisStore connects to Redis and verifies the connection.
func OpenRedisStore(cfg config.StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	logger := log.WithComponent("store")
	logger.Info().
		Str("event", "store.opened").
		Str("backend", "redis").
		Str("addr", cfg.RedisAddr).
		Msg("session store opened")
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error { return r.client.Close() }

func sessionKey(id string) string { return redisKeyPrefix + id }

func (r *RedisStore) CreateSession(ctx context.Context, draft Session) (*Session, error) {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	buf, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, sessionKey(draft.ID), buf, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("session %s already exists", draft.ID)
	}
	out := draft
	return &out, nil
}

func (r *RedisStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	key := sessionKey(sessionID)

	// retry a few times on write contention
	for i := 0; i < 5; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
			}
			if err != nil {
				return err
			}
			var s Session
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
			s.Messages = append(s.Messages, msg)
			s.UpdatedAt = time.Now().UTC()
			buf, err := json.Marshal(s)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, buf, 0)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("append message to %s: too much write contention", sessionID)
}

func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}
