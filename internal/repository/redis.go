package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/config"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

// RedisSettingsStore keeps each settings document as one JSON string value.
type RedisSettingsStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisSettingsStore(client redis.Cmdable, prefix string) *RedisSettingsStore {
	if prefix == "" {
		prefix = "rebalancer:settings:"
	}
	return &RedisSettingsStore{client: client, prefix: prefix}
}

func (s *RedisSettingsStore) Load(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode settings %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisSettingsStore) Save(ctx context.Context, key string, value any) error {
	raw, err := sonic.ConfigStd.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode settings %s: %w", key, err)
	}
	return s.client.Set(ctx, s.prefix+key, string(raw), 0).Err()
}
