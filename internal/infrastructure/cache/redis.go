package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr string
	DB   int
	// Bounds the initial PING; 5s when zero.
	PingTimeout time.Duration
}

// OpenRedis connects and pings once so misconfiguration fails at startup
// rather than on the first idempotent request or published event.
func OpenRedis(ctx context.Context, o Options) (*redis.Client, error) {
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	r := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		DB:           o.DB,
		DialTimeout:  o.PingTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, o.PingTimeout)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// Key builds "<prefix><part>:<part>...". Every key and channel shares the prefix
// so several deployments can use one Redis.
func Key(prefix string, parts ...string) string {
	return prefix + strings.Join(parts, ":")
}
