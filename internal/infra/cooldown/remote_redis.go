package cooldown

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/sifter/internal/core/domain"
)

// RedisStore is an alternative remote backend for fleets that share a
// Redis instead of the cooldown API server.
type RedisStore struct {
	rdb *redis.Client
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string
	Password string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func stateKey(instanceID string) string {
	return fmt.Sprintf("cooldown:%s", instanceID)
}

// Get fetches the record for an instance.
func (s *RedisStore) Get(ctx context.Context, instanceID string) (domain.CooldownState, bool, error) {
	data, err := s.rdb.Get(ctx, stateKey(instanceID)).Bytes()
	if err == redis.Nil {
		return domain.CooldownState{}, false, nil
	}
	if err != nil {
		return domain.CooldownState{}, false, fmt.Errorf("get cooldown state: %w", err)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.CooldownState{}, false, fmt.Errorf("unmarshal cooldown state: %w", err)
	}
	return r.toState(), true, nil
}

// Put stores the record for an instance.
func (s *RedisStore) Put(ctx context.Context, instanceID string, state domain.CooldownState) error {
	data, err := json.Marshal(toRecord(state, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal cooldown state: %w", err)
	}
	if err := s.rdb.Set(ctx, stateKey(instanceID), data, 0).Err(); err != nil {
		return fmt.Errorf("set cooldown state: %w", err)
	}
	return nil
}

// Delete removes the record for an instance.
func (s *RedisStore) Delete(ctx context.Context, instanceID string) error {
	if err := s.rdb.Del(ctx, stateKey(instanceID)).Err(); err != nil {
		return fmt.Errorf("delete cooldown state: %w", err)
	}
	return nil
}
