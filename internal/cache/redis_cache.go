package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wppmon:seen:"

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type seenValue struct {
	MessageID int64     `json:"messageId"`
	StoredAt  time.Time `json:"storedAt"`
}

func key(sourceID string) string {
	return keyPrefix + sourceID
}

func (c *RedisCache) Seen(ctx context.Context, sourceID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key(sourceID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "check seen message")
	}
	return n > 0, nil
}

func (c *RedisCache) MarkSeen(ctx context.Context, sourceID string, messageID int64, storedAt time.Time) error {
	b, err := json.Marshal(seenValue{MessageID: messageID, StoredAt: storedAt.UTC()})
	if err != nil {
		return err
	}
	return errors.Wrap(c.rdb.Set(ctx, key(sourceID), b, c.ttl).Err(), "mark seen message")
}

// Ping checks connectivity, used at startup to decide whether to use the cache.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
