package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clinicqueue/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "clinicqueue:state"

// RedisStore keeps the snapshot as a JSON string under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (*models.State, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	var state models.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot from redis: %w", err)
	}
	return &state, nil
}

// Save replaces the stored document in one SET, which Redis applies atomically.
func (s *RedisStore) Save(ctx context.Context, state models.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Ping checks connectivity for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
