package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/lock"
)

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := lock.NewLocalLocker()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), "order-1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locker.Held())
}

func TestLocalLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := lock.NewLocalLocker()

	releaseA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	releaseB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestLocalLocker_TimesOut(t *testing.T) {
	locker := lock.NewLocalLocker()

	release, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "a")
	require.ErrorIs(t, err, lock.ErrLockTimeout)

	release()
	release()
	assert.Equal(t, 0, locker.Held())
}
