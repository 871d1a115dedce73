package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis. Locks expire
// after TTL so a crashed holder cannot block the key forever.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Retry  time.Duration
	Prefix string
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Redis{
		Client: rdb,
		TTL:    ttl,
		Retry:  50 * time.Millisecond,
		Prefix: "token-manager:lock:",
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := r.Prefix + key
	owner := uuid.New().String()

	ticker := time.NewTicker(r.Retry)
	defer ticker.Stop()
	for {
		ok, err := r.Client.SetNX(ctx, fullKey, owner, r.TTL).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, errors.Join(ErrNotAcquired, err)
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Released with a fresh context so a cancelled caller still frees the key.
				relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := releaseScript.Run(relCtx, r.Client, []string{fullKey}, owner).Err(); err != nil {
					log.Printf("Failed to release lock %s: %v", key, err)
				}
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		}
	}
}
