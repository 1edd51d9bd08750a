package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotConfigured is returned when the locker has no Redis client.
var ErrNotConfigured = errors.New("lock: redis client not configured")

// unlock deletes the key only while it still holds our token, so a lock that
// expired and was taken by another replica is left alone.
var unlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker serialises cart mutations across replicas using SET NX and a random token.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
}

// WithLock runs fn while holding the lock for key and releases it afterwards.
// Waiting stops with ctx.Err() once ctx is done.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return ErrNotConfigured
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	name, token := l.Prefix+key, uuid.NewString()
	if err := l.acquire(ctx, name, token, ttl); err != nil {
		return err
	}
	defer func() {
		// release even when the caller's context was cancelled mid-callback
		_ = unlock.Run(context.WithoutCancel(ctx), l.R, []string{name}, token).Err()
	}()
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, name, token string, ttl time.Duration) error {
	wait := l.RetryBackoff
	if wait <= 0 {
		wait = 50 * time.Millisecond
	}
	ticker := time.NewTicker(wait)
	defer ticker.Stop()
	for {
		won, err := l.R.SetNX(ctx, name, token, ttl).Result()
		switch {
		case err != nil:
			return err
		case won:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
