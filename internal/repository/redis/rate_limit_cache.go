package redis

import (
	"context"
	"fmt"
	"time"

	"growth-service/internal/client"
	"growth-service/internal/util"
)

// RateLimitCache throttles inbound traffic per scope using fixed windows.
type RateLimitCache struct {
	client *client.RedisClient
}

type rateLimit struct {
	maxAttempts int64
	window      time.Duration
}

var rateLimits = map[string]rateLimit{
	"track":   {maxAttempts: 120, window: time.Minute},
	"webhook": {maxAttempts: 600, window: time.Minute},
	"admin":   {maxAttempts: 60, window: time.Minute},
	"api":     {maxAttempts: 300, window: time.Minute},
}

func NewRateLimitCache(redisClient *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: redisClient}
}

// Allow returns false once the caller exhausts the scope's window budget.
func (r *RateLimitCache) Allow(ctx context.Context, scope, key string) (bool, error) {
	limit, ok := rateLimits[scope]
	if !ok {
		limit = rateLimits["api"]
	}

	redisKey := fmt.Sprintf("ratelimit:%s:%s", scope, key)
	count, err := r.client.IncrWithExpire(ctx, redisKey, limit.window)
	if err != nil {
		// Rate limiting is advisory; an unavailable Redis must not take the
		// API down with it.
		util.Warn("Rate limit check failed, allowing request",
			util.String("scope", scope),
			util.ErrorField(err))
		return true, nil
	}

	if count > limit.maxAttempts {
		util.Warn("Rate limit exceeded",
			util.String("scope", scope),
			util.String("key", key),
			util.Any("count", count))
		return false, nil
	}
	return true, nil
}
