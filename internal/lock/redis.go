package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis is a lock shared by every instance pointed at the same server.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *slog.Logger
}

// NewRedis connects using a redis:// URL. ttl bounds how long a crashed
// holder can block others.
func NewRedis(ctx context.Context, url string, ttl time.Duration, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, prefix: "docintake:lock:", ttl: ttl, retry: 100 * time.Millisecond, log: log}, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	return func() { r.release(k, token) }, nil
}

// release runs even if the caller's context is already done. A failed
// release leaves the key held until its TTL expires.
func (r *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int64()
	if err != nil {
		r.log.Error("redis unlock failed", "key", key, "ttl", r.ttl, "error", err)
		return
	}
	if n == 0 {
		r.log.Warn("redis lock expired before release", "key", key, "ttl", r.ttl)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
