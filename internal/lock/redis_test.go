package lock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/lock"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST is not set, skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLocker_ExcludesAndReleases(t *testing.T) {
	client := setupRedis(t)
	a := lock.NewRedisLocker(client, 5*time.Second, 100*time.Millisecond)
	b := lock.NewRedisLocker(client, 5*time.Second, 100*time.Millisecond)
	ctx := context.Background()
	key := "order:" + uuid.Must(uuid.NewV4()).String()

	release, err := a.Lock(ctx, key)
	require.NoError(t, err)

	_, err = b.Lock(ctx, key)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)

	release()

	releaseB, err := b.Lock(ctx, key)
	require.NoError(t, err)
	releaseB()
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	client := setupRedis(t)
	short := lock.NewRedisLocker(client, 50*time.Millisecond, time.Second)
	long := lock.NewRedisLocker(client, 5*time.Second, time.Second)
	ctx := context.Background()
	key := "order:" + uuid.Must(uuid.NewV4()).String()

	releaseOld, err := short.Lock(ctx, key)
	require.NoError(t, err)

	// TTL истёк, ключ забирает другой владелец
	releaseNew, err := long.Lock(ctx, key)
	require.NoError(t, err)

	releaseOld()

	exists, err := client.Exists(ctx, "storefront:lock:"+key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	releaseNew()
}
