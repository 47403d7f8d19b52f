package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance of the service.
type RedisLocker struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client:   client,
		prefix:   "storefront:lock:",
		ttl:      ttl,
		wait:     wait,
		interval: 25 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("lock: failed to generate token: %w", err)
	}
	lockKey := l.prefix + key
	lockValue := token.String()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, lockKey, lockValue, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("lock: failed to acquire %s: %w", lockKey, err)
		}
		if ok {
			break
		}

		select {
		case <-waitCtx.Done():
			return nil, errors.Join(ErrLockTimeout, waitCtx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// освобождаем даже если контекст запроса уже отменён
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, lockValue).Err(); err != nil {
			log.Warn().Err(err).Str("lock_key", lockKey).Msg("lock: failed to release redis lock")
		}
	}, nil
}
