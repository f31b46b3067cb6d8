package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-judge-api/internal/utils"
)

const limiterKeyPrefix = "judge:ratelimit:"

// RateLimit throttles a route per authenticated user, falling back to the client IP for anonymous callers.
// A nil storage keeps counters in process memory.
func RateLimit(identifier string, max int, window time.Duration, storage fiber.Storage) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			caller := c.IP()
			if value := c.Locals("user_id"); value != nil {
				if formatted := fmt.Sprintf("%v", value); formatted != "" && formatted != "0" {
					caller = "user:" + formatted
				}
			}
			return fmt.Sprintf("%s:%s", identifier, caller)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many submissions, slow down")
		},
	})
}

// RedisLimiterStorage shares limiter counters between API replicas.
type RedisLimiterStorage struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisLimiterStorage wraps client as a fiber.Storage.
func NewRedisLimiterStorage(client *redis.Client) *RedisLimiterStorage {
	return &RedisLimiterStorage{client: client, timeout: time.Second}
}

func (s *RedisLimiterStorage) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Get returns nil without error for unknown keys.
func (s *RedisLimiterStorage) Get(key string) ([]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	value, err := s.client.Get(ctx, limiterKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

// Set stores val under key; a zero exp keeps it until deleted.
func (s *RedisLimiterStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Set(ctx, limiterKeyPrefix+key, val, exp).Err()
}

// Delete removes key.
func (s *RedisLimiterStorage) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Del(ctx, limiterKeyPrefix+key).Err()
}

// Reset drops every limiter counter.
func (s *RedisLimiterStorage) Reset() error {
	ctx, cancel := s.ctx()
	defer cancel()

	iter := s.client.Scan(ctx, 0, limiterKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisLimiterStorage) Close() error {
	return nil
}
