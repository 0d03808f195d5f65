package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache keeps JSON encoded values under "<prefix>_<key>". Backend
// errors are logged and reported as cache misses.
type RedisCache[K comparable, V any] struct {
	client gredis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func New[K comparable, V any](prefix string, client gredis.UniversalClient, ttl time.Duration, log *zap.Logger) *RedisCache[K, V] {
	if log == nil {
		log = zap.NewNop()
	}

	return &RedisCache[K, V]{client: client, prefix: prefix, ttl: ttl, log: log.With(zap.String("cache", prefix))}
}

func (c *RedisCache[K, V]) Key(key interface{}) string {
	if ks, ok := key.(fmt.Stringer); ok {
		return fmt.Sprintf("%s_%s", c.prefix, ks.String())
	}

	return fmt.Sprintf("%s_%v", c.prefix, key)
}

func (c *RedisCache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var v V
	if c.client == nil {
		return v, false
	}

	strkey := c.Key(key)
	body, err := c.client.Get(ctx, strkey).Bytes()
	if err != nil {
		if !errors.Is(err, gredis.Nil) {
			c.log.Warn("redis get failed", zap.String("key", strkey), zap.Error(err))
		}

		return v, false
	}

	err = json.Unmarshal(body, &v)
	if err != nil {
		c.log.Warn("redis value unmarshal failed", zap.String("key", strkey), zap.ByteString("body", body), zap.Error(err))
		return v, false
	}

	return v, true
}

func (c *RedisCache[K, V]) Put(ctx context.Context, key K, value V) {
	if c.client == nil {
		return
	}

	strkey := c.Key(key)
	body, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("redis value marshal failed", zap.String("key", strkey), zap.Error(err))
		return
	}

	err = c.client.Set(ctx, strkey, body, c.ttl).Err()
	if err != nil {
		c.log.Warn("redis set failed", zap.String("key", strkey), zap.Error(err))
	}
}

func (c *RedisCache[K, V]) GetMany(ctx context.Context, keys []K) map[K]V {
	result := make(map[K]V, len(keys))
	if c.client == nil || len(keys) == 0 {
		return result
	}

	strkey := make([]string, 0, len(keys))
	for _, key := range keys {
		strkey = append(strkey, c.Key(key))
	}

	rows, err := c.client.MGet(ctx, strkey...).Result()
	if err != nil {
		c.log.Warn("redis mget failed", zap.Strings("keys", strkey), zap.Error(err))
		return result
	}

	for i, row := range rows {
		body, ok := row.(string)
		if !ok {
			continue
		}

		var v V
		err = json.Unmarshal([]byte(body), &v)
		if err != nil {
			c.log.Warn("redis value unmarshal failed", zap.String("key", strkey[i]), zap.String("body", body), zap.Error(err))
			continue
		}

		result[keys[i]] = v
	}

	return result
}

// PutMany stores items in one pipeline round trip
func (c *RedisCache[K, V]) PutMany(ctx context.Context, items map[K]V) {
	if c.client == nil || len(items) == 0 {
		return
	}

	pipe := c.client.Pipeline()
	for key, value := range items {
		body, err := json.Marshal(value)
		if err != nil {
			c.log.Warn("redis value marshal failed", zap.String("key", c.Key(key)), zap.Error(err))
			continue
		}

		pipe.Set(ctx, c.Key(key), body, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("redis pipeline set failed", zap.Int("keys", len(items)), zap.Error(err))
	}
}
