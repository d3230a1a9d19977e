package respcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

const redisKeyPrefix = "airesp:"

// Redis is a response cache backed by a Redis instance, for multi-instance
// deployments where cached responses must be shared. Expiry is delegated to
// Redis TTLs.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the stored response when present; a Redis error is returned so
// the caller can decide to treat it as a miss.
func (c *Redis) Get(ctx domain.Context, key string) (domain.AIResponse, bool, error) {
	b, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.AIResponse{}, false, nil
	}
	if err != nil {
		return domain.AIResponse{}, false, fmt.Errorf("op=respcache.get: %w", err)
	}
	var resp domain.AIResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return domain.AIResponse{}, false, fmt.Errorf("op=respcache.decode: %w", err)
	}
	return resp, true, nil
}

// Set stores a response with the given TTL.
func (c *Redis) Set(ctx domain.Context, key string, resp domain.AIResponse, ttl time.Duration) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("op=respcache.encode: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("op=respcache.set: %w", err)
	}
	return nil
}
