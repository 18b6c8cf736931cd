package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL 상수 정의
const (
	TTLStats   = 1 * time.Minute // 검토 대기열 통계 (전이 시 무효화)
	TTLDefault = 5 * time.Minute
)

// 캐시 키 접두사
const (
	PrefixContribution = "contrib:"
	KeyStats           = PrefixContribution + "stats"
)

// ErrUnavailable is returned by reads when no Redis client is configured
var ErrUnavailable = errors.New("cache: redis not available")

// Service Redis 캐시 서비스 인터페이스
type Service interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// 기여 통계 캐시
	GetStats(ctx context.Context, dest interface{}) error
	SetStats(ctx context.Context, data interface{}) error
	InvalidateStats(ctx context.Context) error

	IsAvailable() bool
	Ping(ctx context.Context) error
}

// redisCache Redis 기반 캐시 구현
type redisCache struct {
	client *redis.Client
}

// NewService 새로운 캐시 서비스 생성. client may be nil: writes become
// no-ops and reads report ErrUnavailable.
func NewService(client *redis.Client) Service {
	return &redisCache{client: client}
}

func (c *redisCache) IsAvailable() bool {
	return c.client != nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return ErrUnavailable
	}
	return c.client.Ping(ctx).Err()
}

// Get 캐시에서 값 조회. A miss returns redis.Nil.
func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrUnavailable
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// Set 캐시에 값 저장
func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil // Redis 없으면 무시
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete 캐시 삭제
func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *redisCache) GetStats(ctx context.Context, dest interface{}) error {
	return c.Get(ctx, KeyStats, dest)
}

func (c *redisCache) SetStats(ctx context.Context, data interface{}) error {
	return c.Set(ctx, KeyStats, data, TTLStats)
}

func (c *redisCache) InvalidateStats(ctx context.Context) error {
	return c.Delete(ctx, KeyStats)
}
