package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RosarioB/eliza-nft/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCacheExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := NewCacheWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), now.Add(time.Minute)))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), time.Time{}))

	got, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	now = now.Add(time.Minute)
	_, err = cache.Get(ctx, "a")
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err = cache.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	require.Equal(t, 1, cache.Len())
}

func TestCacheReturnsCopies(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, cache.Set(ctx, "k", value, time.Time{}))
	value[0] = 'z'

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
	got[1] = 'z'

	again, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(again))
}

func TestCacheSweepAndDelete(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := NewCacheWithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "old", []byte("x"), now.Add(-time.Second)))
	require.NoError(t, cache.Set(ctx, "new", []byte("y"), now.Add(time.Hour)))

	require.Equal(t, 1, cache.Sweep())
	require.NoError(t, cache.Delete(ctx, "new"))
	require.Equal(t, 0, cache.Len())
}

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	locks := NewKeyedMutex()
	ctx := context.Background()

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, "agent/u1/data")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInside.Load())
	require.Equal(t, 0, locks.size())
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	locks := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := locks.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := locks.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	locks := NewKeyedMutex()
	unlock, err := locks.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "k")
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock()
	require.Equal(t, 0, locks.size())
}
