package common

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

func newTestRedis(t *testing.T) *RedisClient {
	t.Helper()

	s := miniredis.RunT(t)
	rdb, err := NewRedisClient(types.RedisConfig{
		Addrs: []string{s.Addr()},
		Mode:  types.RedisModeSingle,
	})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	lock := NewRedisLock(newTestRedis(t))
	ctx := context.Background()
	key := Keys.IndexRebuildLock("octo", "notes", "people/index.json")

	token, err := lock.Acquire(ctx, key, RedisLockOptions{TtlS: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = lock.Acquire(ctx, key, RedisLockOptions{TtlS: 5})
	assert.ErrorIs(t, err, ErrLockNotObtained)

	require.NoError(t, lock.Release(key, token))
	token, err = lock.Acquire(ctx, key, RedisLockOptions{TtlS: 5})
	require.NoError(t, err)
	require.NoError(t, lock.Release(key, token))
}

func TestRedisLock_ReleaseUnknownKey(t *testing.T) {
	lock := NewRedisLock(newTestRedis(t))
	assert.NoError(t, lock.Release("never-acquired", "nobody"))
}

func TestRedisLock_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(types.RedisConfig{Addrs: []string{mr.Addr()}, Mode: types.RedisModeSingle})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	lock := NewRedisLock(rdb)
	ctx := context.Background()

	stale, err := lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 1})
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	owner, err := lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	require.NoError(t, err)

	require.NoError(t, lock.Release("k", stale))
	_, err = lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	assert.ErrorIs(t, err, ErrLockNotObtained)

	require.NoError(t, lock.Release("k", owner))
}

func TestLocalLock(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()

	token, err := lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	require.NoError(t, err)
	_, err = lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	assert.ErrorIs(t, err, ErrLockNotObtained)
	_, err = lock.Acquire(ctx, "other", RedisLockOptions{TtlS: 5})
	assert.NoError(t, err)

	require.NoError(t, lock.Release("k", token))
	_, err = lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	assert.NoError(t, err)
}

func TestLocalLock_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()

	stale, err := lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	require.NoError(t, err)

	// Expire the first hold in place
	lock.mu.Lock()
	hold := lock.held["k"]
	hold.expires = time.Now().Add(-time.Second)
	lock.held["k"] = hold
	lock.mu.Unlock()

	owner, err := lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	require.NoError(t, err)
	assert.NotEqual(t, stale, owner)

	require.NoError(t, lock.Release("k", stale))
	_, err = lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	assert.ErrorIs(t, err, ErrLockNotObtained)

	require.NoError(t, lock.Release("k", owner))
	_, err = lock.Acquire(ctx, "k", RedisLockOptions{TtlS: 5})
	assert.NoError(t, err)
}

func TestNewRedisClient_NotConfigured(t *testing.T) {
	_, err := NewRedisClient(types.RedisConfig{Addrs: []string{""}})
	assert.Error(t, err)
}

func TestEventBus_DispatchesOverRedis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewEventBus(ctx, newTestRedis(t))
	got := make(chan Event, 1)
	bus.On(EventTokenRevoked, func(e Event) { got <- e })

	go bus.Start()

	// The subscription is asynchronous; publish until it is listening
	require.Eventually(t, func() bool {
		bus.Emit(Event{Type: EventTokenRevoked, Data: map[string]any{"token_hash": "abc"}})
		select {
		case e := <-got:
			return e.Data["token_hash"] == "abc"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventBus_LocalWithoutRedis(t *testing.T) {
	bus := NewEventBus(context.Background(), nil)

	var seen []string
	bus.On(EventTokenRevoked, func(e Event) { seen = append(seen, e.Data["token_hash"].(string)) })
	bus.Emit(Event{Type: EventTokenRevoked, Data: map[string]any{"token_hash": "k1"}})
	bus.Emit(Event{Type: "other"})

	assert.Equal(t, []string{"k1"}, seen)
}
