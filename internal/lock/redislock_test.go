package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/furever-cart/internal/lock"
)

type withLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

func newRedisLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, Prefix: "lock:cart:", RetryBackoff: 5 * time.Millisecond}, mr
}

func assertSerialised(t *testing.T, locker withLocker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- locker.WithLock(ctx, "demo", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()
	<-firstDone

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- locker.WithLock(ctx, "demo", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"first"}, order)
	mu.Unlock()

	close(releaseFirst)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, []string{"first", "second"}, order)
}

func TestRedisLockerSerialises(t *testing.T) {
	locker, _ := newRedisLocker(t)
	assertSerialised(t, locker)
}

func TestLocalLockerSerialises(t *testing.T) {
	assertSerialised(t, &lock.Local{})
}

func TestRedisLockerReleasesAndPropagatesError(t *testing.T) {
	locker, mr := newRedisLocker(t)
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "cart-1", time.Second, func(context.Context) error {
		require.True(t, mr.Exists("lock:cart:cart-1"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("lock:cart:cart-1"))
}

func TestLockerHonoursContext(t *testing.T) {
	locker, mr := newRedisLocker(t)
	require.NoError(t, mr.Set("lock:cart:busy", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "busy", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockerWithoutClient(t *testing.T) {
	err := lock.Locker{}.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, lock.ErrNotConfigured)
}
