package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockPrefix     = "mrv:lock:project:"
	defaultRedisLockTTL = 10 * time.Second
	defaultRedisRetry   = 25 * time.Millisecond
)

// Only the holder's token may delete the key.
var redisUnlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker serialises transitions across service instances with
// SET NX PX. The TTL bounds how long a crashed holder can block a project;
// it must exceed the longest expected transaction.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

type RedisLockerOption func(*RedisLocker)

func WithLockTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithLockRetry(retry time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if retry > 0 {
			l.retry = retry
		}
	}
}

func WithLockLogger(logger *slog.Logger) RedisLockerOption {
	return func(l *RedisLocker) { l.logger = logger }
}

func NewRedisLocker(client *redis.Client, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		ttl:    defaultRedisLockTTL,
		retry:  defaultRedisRetry,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := redisUnlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Error("failed to release project lock", "key", redisKey, "error", err)
			}
		})
	}, nil
}
