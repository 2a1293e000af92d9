// Package session provides a Redis backend for login sessions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mveditor/api/internal/store"
)

// RedisStore keeps one key per session that expires with the session's
// refresh window.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
		now:    time.Now,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) CreateSession(ctx context.Context, session store.Session) error {
	if session.LastActive.IsZero() {
		session.LastActive = session.CreatedAt
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("save session %s: already expired", session.ID)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(session.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns store.ErrNotFound for unknown or expired sessions.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	return s.read(ctx, s.client, sessionID)
}

// ValidateSession records activity on a live session.
func (s *RedisStore) ValidateSession(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.read(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		session.LastActive = s.now().UTC()
		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
}

// RotateRefresh swaps the refresh hash only when oldHash is still current.
// A replayed refresh token therefore fails with store.ErrNotFound.
func (s *RedisStore) RotateRefresh(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) error {
	key := s.key(sessionID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.read(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.RefreshHash != oldHash {
			return store.ErrNotFound
		}
		session.RefreshHash = newHash
		session.ExpiresAt = expiresAt
		session.LastActive = s.now().UTC()
		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		ttl := expiresAt.Sub(s.now())
		if ttl <= 0 {
			return store.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, key)
}

// DeleteSession is a no-op for unknown sessions.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) read(ctx context.Context, cmd redis.Cmdable, sessionID string) (store.Session, error) {
	raw, err := cmd.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("lookup session: %w", err)
	}
	var session store.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return store.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
