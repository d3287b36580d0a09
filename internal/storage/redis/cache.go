package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leozw/custom-domains/internal/core"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	return &Client{redis.NewClient(opt)}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

// ResolutionCache caches resolver answers keyed by hostname.
type ResolutionCache struct {
	client *Client
	ttl    time.Duration
}

func NewResolutionCache(client *Client, ttl time.Duration) *ResolutionCache {
	return &ResolutionCache{client: client, ttl: ttl}
}

func resolutionKey(domain string) string {
	return fmt.Sprintf("custom_domain:resolve:%s", domain)
}

func (c *ResolutionCache) Get(ctx context.Context, domain string) (core.Resolution, bool, error) {
	var res core.Resolution
	err := c.client.GetJSON(ctx, resolutionKey(domain), &res)
	if errors.Is(err, redis.Nil) {
		return core.Resolution{}, false, nil
	}
	if err != nil {
		return core.Resolution{}, false, err
	}
	return res, true, nil
}

func (c *ResolutionCache) Set(ctx context.Context, res core.Resolution) error {
	return c.client.SetJSON(ctx, resolutionKey(res.Domain), res, c.ttl)
}

func (c *ResolutionCache) Invalidate(ctx context.Context, domain string) error {
	return c.client.Del(ctx, resolutionKey(domain)).Err()
}
