package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options Redis 연결 설정
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Addr returns host:port
func (o Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// NewClient Redis 클라이언트 생성. The connection is verified with a ping
// bounded by ctx.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr(),
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: 3 * time.Second,
	})

	// 연결 테스트
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr(), err)
	}

	return client, nil
}
