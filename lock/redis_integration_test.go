//go:build integration

package lock_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/estimate-engine/lock"
)

func getTestLocker(t *testing.T) (*lock.Redis, *redis.Client) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := lock.NewRedisClient(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: cannot ping redis: %v", err)
		return nil, nil
	}
	t.Cleanup(func() { client.Close() })
	return lock.NewRedis(client), client
}

func testKey() string {
	return fmt.Sprintf("it-%d", time.Now().UnixNano())
}

func TestRedisLock_Exclusive(t *testing.T) {
	locker, _ := getTestLocker(t)
	if locker == nil {
		return
	}
	ctx := context.Background()
	key := testKey()

	release, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	release2, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestRedisLock_RenewedBeyondTTL(t *testing.T) {
	locker, _ := getTestLocker(t)
	if locker == nil {
		return
	}
	// GIVEN: A holder with a short TTL
	locker.TTL = 150 * time.Millisecond
	ctx := context.Background()
	key := testKey()

	release, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	defer release()

	// WHEN: The holder works for several TTLs
	time.Sleep(500 * time.Millisecond)

	// THEN: The grouping is still locked
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLock_LostHolderCannotReleaseNewOwner(t *testing.T) {
	locker, client := getTestLocker(t)
	if locker == nil {
		return
	}
	core, logs := observer.New(zap.WarnLevel)
	locker.Logger = zap.New(core)
	locker.TTL = 150 * time.Millisecond
	ctx := context.Background()
	key := testKey()

	// GIVEN: A holder whose key disappears, as after a long pause
	stale, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, client.Del(ctx, "estimate:lock:"+key).Err())
	time.Sleep(120 * time.Millisecond)

	// WHEN: Someone else takes the lock and the stale holder releases
	locker.TTL = 5 * time.Second
	fresh, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	defer fresh()
	stale()

	// THEN: The loss was logged and the fresh lock survives the stale release
	assert.Equal(t, 1, logs.FilterMessage("grouping lock lost before release").Len())

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "stale release must not free the fresh holder's lock")
}
