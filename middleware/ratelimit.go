package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// WindowCounter counts hits on key within a fixed window that starts at the
// first hit. It returns the count and the time left until the window resets.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Incrementing and arming the TTL happen in one step. A key found without a
// TTL is re-armed, so a counter can never outlive its window.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisCounter is a WindowCounter shared by every server instance.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (r *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := hitScript.Run(ctx, r.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, redis.Nil
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// RateLimit caps requests per authenticated user. It bounds how hard polling
// clients (one timer per open view) can hit the conversation routes. When
// the counter is unavailable requests pass through.
func RateLimit(counter WindowCounter, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limit <= 0 {
			return c.Next()
		}
		meta, ok := Caller(c)
		if !ok {
			return c.Next()
		}

		key := "ratelimit:" + meta.Id
		n, reset, err := counter.Hit(c.UserContext(), key, window)
		if err != nil {
			log.Warn().Err(err).Msg("rate limit counter unavailable")
			return c.Next()
		}
		if n > int64(limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter(reset)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"status":  "error",
				"message": "Too many requests",
				"data":    nil,
			})
		}
		return c.Next()
	}
}

// retryAfter rounds the remaining window up to whole seconds, at least one.
func retryAfter(reset time.Duration) int {
	secs := int((reset + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
