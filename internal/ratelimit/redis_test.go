package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, policy Policy) (*RedisLimiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewRedisLimiter(rdb, policy)
	l.now = clock.Now
	return l, mr, clock
}

func TestRedisLimiter_CapsWithinWindow(t *testing.T) {
	l, _, clock := newRedisLimiter(t, Policy{})
	ctx := context.Background()

	for i := 0; i < DefaultMax; i++ {
		ok, err := l.Admit(ctx, "u1", "assistant-relay")
		require.NoError(t, err)
		require.True(t, ok, "request %d should be admitted", i)
		clock.Advance(time.Second)
	}

	ok, err := l.Admit(ctx, "u1", "assistant-relay")
	require.NoError(t, err)
	assert.False(t, ok, "21st request inside the window must be denied")

	ok, err = l.Admit(ctx, "u2", "assistant-relay")
	require.NoError(t, err)
	assert.True(t, ok, "other users keep their own budget")

	ok, err = l.Admit(ctx, "u1", "chatgpt")
	require.NoError(t, err)
	assert.True(t, ok, "other endpoints keep their own budget")
}

func TestRedisLimiter_WindowRollsOff(t *testing.T) {
	l, mr, clock := newRedisLimiter(t, Policy{Max: 3, Window: 10 * time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Admit(ctx, "u1", "assistant-relay")
		require.NoError(t, err)
		require.True(t, ok)
		clock.Advance(2 * time.Second)
	}
	ok, err := l.Admit(ctx, "u1", "assistant-relay")
	require.NoError(t, err)
	require.False(t, ok)

	// Denied requests do not take a slot.
	members, err := mr.ZMembers("ratelimit:assistant-relay:u1")
	require.NoError(t, err)
	assert.Len(t, members, 3)
	assert.Equal(t, 10*time.Second, mr.TTL("ratelimit:assistant-relay:u1"))

	// t=10s: the first hit (t=0) is now exactly one window old.
	clock.Advance(4 * time.Second)
	ok, err = l.Admit(ctx, "u1", "assistant-relay")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Admit(ctx, "u1", "assistant-relay")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLimiter_ConcurrentBurstNeverExceedsMax(t *testing.T) {
	l, _, _ := newRedisLimiter(t, Policy{})
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Admit(ctx, "u1", "assistant-relay")
			if assert.NoError(t, err) && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, DefaultMax, admitted.Load())
}

func TestRedisLimiter_StoreUnavailable(t *testing.T) {
	l, mr, _ := newRedisLimiter(t, Policy{})
	mr.Close()

	ok, err := l.Admit(context.Background(), "u1", "assistant-relay")
	require.Error(t, err)
	assert.False(t, ok)
}
