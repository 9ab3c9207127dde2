package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"growth-service/internal/client"
	"growth-service/internal/util"
)

const settingsTTL = 5 * time.Minute

// SettingsCache is a read-through cache in front of the admin settings table.
// Stale reads are bounded by the TTL; writes invalidate eagerly.
type SettingsCache struct {
	client *client.RedisClient
}

func NewSettingsCache(redisClient *client.RedisClient) *SettingsCache {
	return &SettingsCache{client: redisClient}
}

func (c *SettingsCache) key(name string) string {
	return fmt.Sprintf("settings:%s", name)
}

// Get returns the cached value and whether it was present. Cache errors are
// treated as misses.
func (c *SettingsCache) Get(ctx context.Context, name string) (string, bool) {
	value, err := c.client.Get(ctx, c.key(name))
	if err != nil {
		if !errors.Is(err, client.ErrKeyNotFound) {
			util.Warn("Settings cache read failed",
				util.String("setting", name),
				util.ErrorField(err))
		}
		return "", false
	}
	return value, true
}

func (c *SettingsCache) Put(ctx context.Context, name, value string) {
	if err := c.client.Set(ctx, c.key(name), value, settingsTTL); err != nil {
		util.Warn("Settings cache write failed",
			util.String("setting", name),
			util.ErrorField(err))
	}
}

func (c *SettingsCache) Invalidate(ctx context.Context, name string) {
	if err := c.client.Del(ctx, c.key(name)); err != nil {
		util.Warn("Settings cache invalidation failed",
			util.String("setting", name),
			util.ErrorField(err))
	}
}
