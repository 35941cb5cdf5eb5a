package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/alohamonius/aster-vibe-trader/config"
)

// ErrNotFound reports a missing warm-store entry.
var ErrNotFound = errors.New("snapshot: not found")

// RedisStore persists snapshots across process restarts so a freshly started
// engine serves warm data instead of hammering the exchange. It is strictly
// best effort: every failure degrades to a miss.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedisStore connects to redis. A failed ping returns an error; callers
// treat the store as optional and run without it.
func NewRedisStore(cfg config.RedisConfig, log zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "arena:snapshot:",
		log:    log.With().Str("component", "snapshot_store").Logger(),
	}, nil
}

// GetJSON loads the snapshot at key into dest. Misses and transport errors
// both surface as ErrNotFound; the caller refetches either way.
func (s *RedisStore) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			s.log.Warn().Err(err).Str("key", key).Msg("warm store read failed")
		}
		return ErrNotFound
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("warm store entry unreadable, dropping")
		s.client.Del(ctx, s.prefix+key)
		return ErrNotFound
	}
	return nil
}

// SetJSON stores value at key with ttl. Failures are logged, not returned;
// the in-memory cache still holds the value.
func (s *RedisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("snapshot not serializable, skipping warm store")
		return
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("warm store write failed")
	}
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
