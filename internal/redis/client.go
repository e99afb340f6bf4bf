package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options carries the tunables the deployment config exposes. Zero values
// fall back to the defaults below.
type Options struct {
	Addr     string
	Username string
	Password string

	Timeout  time.Duration // read and write timeout
	PoolSize int
}

const (
	defaultTimeout  = 2 * time.Second
	defaultPoolSize = 10
)

// NewRedisClient connects and pings before returning, so a bad address
// fails at startup rather than on the first booking.
func NewRedisClient(ctx context.Context, o Options) (*redis.Client, error) {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
		PoolSize:     o.PoolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
