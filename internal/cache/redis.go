package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-sync/internal/metrics"
)

// Redis stores JSON-encoded values in Redis so that several processes share
// one provider cache. Redis failures degrade to a direct fetch.
type Redis[T any] struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
	group  singleflight.Group
}

func NewRedis[T any](client redis.Cmdable, prefix string, logger *zap.Logger) *Redis[T] {
	return &Redis[T]{client: client, prefix: prefix, logger: logger}
}

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	return client, nil
}

func (r *Redis[T]) GetOrFetch(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc[T]) (T, error) {
	redisKey := r.prefix + key.String()

	if v, ok := r.get(ctx, redisKey); ok {
		metrics.CacheLookupsTotal.WithLabelValues("redis", "hit").Inc()
		return v, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("redis", "miss").Inc()

	return sharedFetch(ctx, &r.group, redisKey, func(ctx context.Context) (T, error) {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		r.set(ctx, redisKey, v, NormalizeTTL(ttl))
		return v, nil
	})
}

func (r *Redis[T]) get(ctx context.Context, key string) (T, bool) {
	var zero T

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis cache read failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		r.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

func (r *Redis[T]) set(ctx context.Context, key string, v T, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("cache entry not encodable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, key, string(data), ttl).Err(); err != nil {
		r.logger.Warn("redis cache write failed", zap.String("key", key), zap.Error(err))
	}
}
