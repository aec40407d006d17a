// Package lock provides a Redis-backed grouping lock for deployments with
// several service instances and no shared Postgres.
//
// The key expires after TTL so a crashed holder cannot block a grouping
// forever. A live holder renews it every TTL/3 until released; if a renewal
// finds the key gone or owned by someone else the loss is logged.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/estimate-engine/generic"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
	keyPrefix    = "estimate:lock:"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only if it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a SETNX lock with a per-holder token.
type Redis struct {
	client redis.UniversalClient
	TTL    time.Duration
	Retry  time.Duration
	Logger *zap.Logger
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, TTL: defaultTTL, Retry: defaultRetry, Logger: zap.NewNop()}
}

// NewRedisClient builds a client from address, password and db index.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Lock blocks until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	ttl, retry := r.TTL, r.Retry
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if retry <= 0 {
		retry = defaultRetry
	}

	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", generic.ErrLockUnavailable, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.renew(redisKey, token, ttl, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			releaseScript.Run(context.Background(), r.client, []string{redisKey}, token)
		})
	}, nil
}

// renew keeps the key alive until stop is closed or ownership is lost.
func (r *Redis) renew(redisKey, token string, ttl time.Duration, stop <-chan struct{}) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
		n, err := renewScript.Run(ctx, r.client, []string{redisKey}, token, ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			logger.Warn("grouping lock renewal failed", zap.String("key", redisKey), zap.Error(err))
		case n == 0:
			logger.Error("grouping lock lost before release", zap.String("key", redisKey))
			return
		}
	}
}
