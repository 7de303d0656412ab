package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeysSortsAndDedupes(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, normalizeKeys([]string{"c", "a", "", "b", "a"}))
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex(time.Second)
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, ProductKey("p1"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestKeyedMutexTimesOut(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, ProductKey("p1"), ProductKey("p2"))
	require.NoError(t, err)
	defer unlock()

	_, err = m.Lock(ctx, ProductKey("p2"))
	require.ErrorIs(t, err, ErrTimeout)

	other, err := m.Lock(ctx, ProductKey("p3"))
	require.NoError(t, err)
	other()
}

func TestKeyedMutexReleasesPartialAcquisition(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "b")
	require.NoError(t, err)

	_, err = m.Lock(ctx, "a", "b")
	require.True(t, errors.Is(err, ErrTimeout))

	// "a" must have been released by the failed call.
	again, err := m.Lock(ctx, "a")
	require.NoError(t, err)
	again()
	unlock()
}

func TestKeyedMutexDropsReleasedSlots(t *testing.T) {
	m := NewKeyedMutex(time.Second)
	ctx := context.Background()

	for i := 0; i < 10000; i++ {
		unlock, err := m.Lock(ctx, SaleKey(fmt.Sprintf("sale-%d", i)))
		require.NoError(t, err)
		unlock()
	}
	require.Empty(t, m.slots)
}

func TestKeyedMutexKeepsSlotWhileWaiterQueued(t *testing.T) {
	m := NewKeyedMutex(time.Second)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "a")
	require.NoError(t, err)

	acquired := make(chan func())
	go func() {
		next, err := m.Lock(ctx, "a")
		if assert.NoError(t, err) {
			acquired <- next
		}
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.slots["a"] != nil && m.slots["a"].refs == 2
	}, time.Second, time.Millisecond)

	unlock()
	next := <-acquired
	require.Len(t, m.slots, 1)
	next()
	require.Empty(t, m.slots)
}

func TestKeyedMutexTimeoutLeavesNoSlots(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "b")
	require.NoError(t, err)

	_, err = m.Lock(ctx, "a", "b")
	require.ErrorIs(t, err, ErrTimeout)

	unlock()
	require.Empty(t, m.slots)
}

func TestRedisLockerExcludesConcurrentHolders(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, RedisOptions{Timeout: 60 * time.Millisecond})
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, ProductKey("p1"))
	require.NoError(t, err)

	_, err = locker.Lock(ctx, ProductKey("p1"))
	require.ErrorIs(t, err, ErrTimeout)

	unlock()

	again, err := locker.Lock(ctx, ProductKey("p1"))
	require.NoError(t, err)
	again()
}
