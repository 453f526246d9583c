package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"questweaver/server/internal/config"
)

const (
	turnKeyPrefix = "adventure:turns:"
	liveKeyPrefix = "adventure:live:"
)

// RedisStore provides optional hot-path counters: per-adventure turn
// rate limiting and live-session presence keys. The server runs without
// it; callers treat a nil *RedisStore as "no limiter".
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// AllowTurn applies a fixed-window turn limit per adventure. It returns
// whether the turn may proceed and, when denied, how long until the
// window resets (the client-facing backoff hint).
func (s *RedisStore) AllowTurn(ctx context.Context, adventureID string, limit int, window time.Duration) (bool, time.Duration, error) {
	if s == nil || limit <= 0 {
		return true, 0, nil
	}

	key := turnKeyPrefix + adventureID
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to count turns: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("failed to set turn window: %w", err)
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return false, ttl, nil
}

// MarkLive records that an adventure has a live session. The key ages
// out on its own if the process dies without cleanup.
func (s *RedisStore) MarkLive(ctx context.Context, adventureID string, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	return s.client.Set(ctx, liveKeyPrefix+adventureID, time.Now().Unix(), ttl).Err()
}

// ClearLive removes the presence key on session close.
func (s *RedisStore) ClearLive(ctx context.Context, adventureID string) error {
	if s == nil {
		return nil
	}
	return s.client.Del(ctx, liveKeyPrefix+adventureID).Err()
}
