package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// MemoryLimiter is a fixed-window limiter for single-replica deployments. It keeps
// one ulule limiter per (window, max) pair over a shared store.
type MemoryLimiter struct {
	Store limiter.Store

	once     sync.Once
	mu       sync.Mutex
	limiters map[limiter.Rate]*limiter.Limiter
}

// NewMemoryLimiter returns a MemoryLimiter over an in-process store.
func NewMemoryLimiter(prefix string) *MemoryLimiter {
	return &MemoryLimiter{Store: memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          prefix,
		CleanUpInterval: time.Minute,
	})}
}

// Allow registers an event for key and reports whether it is within the limit.
func (m *MemoryLimiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	if limit <= 0 || window <= 0 {
		return true, limit, time.Now().Add(window), nil
	}
	lim := m.limiterFor(limiter.Rate{Period: window, Limit: int64(limit)})
	lctx, err := lim.Get(ctx, fmt.Sprintf("%s:%d:%d", key, window, limit))
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}

func (m *MemoryLimiter) limiterFor(rate limiter.Rate) *limiter.Limiter {
	m.once.Do(func() {
		if m.Store == nil {
			m.Store = memory.NewStore()
		}
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limiters == nil {
		m.limiters = make(map[limiter.Rate]*limiter.Limiter)
	}
	lim, ok := m.limiters[rate]
	if !ok {
		lim = limiter.New(m.Store, rate)
		m.limiters[rate] = lim
	}
	return lim
}
