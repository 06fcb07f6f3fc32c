package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attack-graph/internal/config"
	"attack-graph/pkg/logger"
)

// RedisCache wraps the Redis client with typed operations
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisAuditConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    log,
	}, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// Key prepends the namespace prefix to a key
func (c *RedisCache) Key(k string) string {
	return c.keyPrefix + k
}

// SetJSON marshals one value and stores it under every key in a single
// MULTI/EXEC, so readers never see the keys disagree.
func (c *RedisCache) SetJSON(ctx context.Context, value any, ttl time.Duration, keys ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	pipe := c.client.TxPipeline()
	for _, k := range keys {
		pipe.Set(ctx, c.Key(k), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store %d keys: %w", len(keys), err)
	}
	return nil
}

// Cache key constants for ingestion runs
const (
	KeyRunPrefix = "run:"
	KeyLastRun   = "run:last"
)

// RunKey returns the key of one run report
func RunKey(id string) string {
	return KeyRunPrefix + id
}
