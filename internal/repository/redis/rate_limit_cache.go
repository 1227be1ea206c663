package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"accounts-service/internal/client"
	"accounts-service/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// RateLimitCache is a fixed-window counter keyed by scope and subject, e.g.
// ("login", phone) or ("vpa_lookup", account_id). The first hit in a window
// sets the expiry; the window never slides.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// Allow reports whether another hit fits inside the current window.
func (c *RateLimitCache) Allow(scope, subject string, limit int64, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := rateLimitPrefix + scope + ":" + subject

	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to check rate limit",
			zap.String("scope", scope),
			zap.Error(err))
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count > limit {
		util.Warn("Rate limit exceeded",
			zap.String("scope", scope),
			zap.String("subject", subject),
			zap.Int64("count", count),
			zap.Int64("limit", limit))
		return false, nil
	}

	return true, nil
}

// Remaining reports how many hits are left in the current window without
// consuming one.
func (c *RateLimitCache) Remaining(scope, subject string, limit int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := rateLimitPrefix + scope + ":" + subject

	value, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return limit, nil
		}
		return 0, fmt.Errorf("failed to read rate limit: %w", err)
	}

	var count int64
	if _, err := fmt.Sscanf(value, "%d", &count); err != nil {
		return 0, fmt.Errorf("failed to parse rate limit counter: %w", err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (c *RateLimitCache) Reset(scope, subject string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, rateLimitPrefix+scope+":"+subject); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}
