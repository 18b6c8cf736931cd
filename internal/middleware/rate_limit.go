package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/damoang/angple-contrib/internal/common"
	"github.com/damoang/angple-contrib/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	Limit     int
	Window    time.Duration
	KeyPrefix string
	Message   string
}

// DefaultRateLimitConfig returns the per-IP limit for the whole API
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:     120,
		Window:    time.Minute,
		KeyPrefix: "contrib:ratelimit:ip:",
		Message:   "요청이 너무 많습니다. 잠시 후 다시 시도해주세요.",
	}
}

// rateLimitScript is an atomic Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local window_start = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, math.ceil(window / 1000) + 1)
    return {1, limit - count - 1, 0}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset_at = 0
    if #oldest >= 2 then
        reset_at = tonumber(oldest[2]) + window
    end
    return {0, 0, reset_at}
end
`)

// RateLimit limits requests per client IP
func RateLimit(redisClient *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	return limiter(redisClient, cfg, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// RateLimitPerUser limits requests per authenticated user, falling back to
// the client IP. Used on contribution submission.
func RateLimitPerUser(redisClient *redis.Client, limit int, window time.Duration) gin.HandlerFunc {
	cfg := RateLimitConfig{
		Limit:     limit,
		Window:    window,
		KeyPrefix: "contrib:ratelimit:user:",
		Message:   "제출 한도를 초과했습니다. 잠시 후 다시 시도해주세요.",
	}
	return limiter(redisClient, cfg, func(c *gin.Context) string {
		if userID := GetUserID(c); userID != "" {
			return userID
		}
		return "ip:" + c.ClientIP()
	})
}

func limiter(redisClient *redis.Client, cfg RateLimitConfig, keyOf func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || cfg.Limit <= 0 {
			c.Next()
			return
		}

		now := time.Now().UnixMilli()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()

		result, err := rateLimitScript.Run(ctx, redisClient, []string{cfg.KeyPrefix + keyOf(c)},
			cfg.Limit, cfg.Window.Milliseconds(), now,
		).Int64Slice()
		if err != nil {
			// Fail open
			logger.GetLogger().Warn().Err(err).Msg("rate limit check failed")
			c.Next()
			return
		}

		allowed := result[0] == 1
		remaining := result[1]
		resetAt := result[2]

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			retryAfter := (resetAt - now) / 1000
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			common.AbortWithError(c, http.StatusTooManyRequests, cfg.Message, nil)
			return
		}

		c.Next()
	}
}
