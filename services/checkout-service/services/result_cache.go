package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResultCache remembers terminal successful verification results so repeat
// polls skip the gateway. Implementations swallow their own errors: a cache
// outage only costs an extra gateway call.
type ResultCache interface {
	Get(ctx context.Context, reference string) (*VerifyResult, bool)
	Set(ctx context.Context, reference string, result *VerifyResult)
}

// RedisResultCache stores results as JSON under checkout:verify:<reference>.
type RedisResultCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisResultCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisResultCache {
	return &RedisResultCache{client: client, ttl: ttl, logger: logger.Named("result_cache")}
}

func (c *RedisResultCache) key(reference string) string {
	return "checkout:verify:" + reference
}

func (c *RedisResultCache) Get(ctx context.Context, reference string) (*VerifyResult, bool) {
	data, err := c.client.Get(ctx, c.key(reference)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("result cache read failed", zap.String("reference", reference), zap.Error(err))
		return nil, false
	}
	var result VerifyResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("result cache entry unreadable", zap.String("reference", reference), zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (c *RedisResultCache) Set(ctx context.Context, reference string, result *VerifyResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(reference), data, c.ttl).Err(); err != nil {
		c.logger.Warn("result cache write failed", zap.String("reference", reference), zap.Error(err))
	}
}

// NoopResultCache never hits.
type NoopResultCache struct{}

func (NoopResultCache) Get(context.Context, string) (*VerifyResult, bool) { return nil, false }
func (NoopResultCache) Set(context.Context, string, *VerifyResult)        {}
