package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces session keys in a shared Redis.
const keyPrefix = "chargegate:session:"

// Connect creates a Redis client from a redis:// URL or a bare host:port
// and verifies it answers PING.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best effort on failed connect
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps sessions in Redis so every gateway instance sees the same sign-ins.
// Expiry is enforced by key TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Create implements Store.
func (r *RedisStore) Create(ctx context.Context, operatorID string) (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &Session{
		ID:         id,
		OperatorID: operatorID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.ttl),
	}
	if err := r.put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if s.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Touch implements Store.
func (r *RedisStore) Touch(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	s.ExpiresAt = time.Now().UTC().Add(r.ttl)
	return r.put(ctx, s)
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (r *RedisStore) put(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+s.ID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}
