package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker keeps two processes from running the same job at once.
// Acquire returns ok=false when another holder has the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// RedisLocker is a single-instance Redis lock: SET NX PX to take it and a
// compare-and-delete script to release only our own token.
type RedisLocker struct {
	Redis  *redis.Client
	Prefix string
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (l *RedisLocker) key(raw string) string {
	if l.Prefix == "" {
		return raw
	}
	return l.Prefix + ":" + raw
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.Redis == nil {
		return func(context.Context) error { return nil }, true, nil
	}

	token := uuid.NewString()
	fullKey := l.key(key)

	ok, err := l.Redis.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.Redis, []string{fullKey}, token).Err()
	}
	return release, true, nil
}

var errLockHeld = errors.New("scheduler: job lock held elsewhere")

// withLock runs fn while holding key. It returns errLockHeld without
// running fn when another process has the lock.
func (r *Runner) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if r.locker == nil {
		return fn(ctx)
	}
	release, ok, err := r.locker.Acquire(ctx, key, r.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		r.logger.Info("job already running elsewhere", "lock", key)
		return errLockHeld
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to release job lock", "lock", key, "error", err)
		}
	}()
	return fn(ctx)
}
