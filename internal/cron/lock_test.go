package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return mr, redis.FromClient(raw)
}

func TestRedisLockIsExclusiveAndExpires(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	first, err := NewRedisLock(client, "cron:lifecycle", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(client, "cron:lifecycle", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "lock held by another replica")

	// releasing a lock we never owned leaves the holder in place
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists("cron:lifecycle"))

	mr.FastForward(2 * time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock is reclaimable after its ttl")

	// the stale owner must not delete the new holder's lock
	require.NoError(t, first.Release(ctx))
	assert.True(t, mr.Exists("cron:lifecycle"))

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists("cron:lifecycle"))
}

func TestRedisLockKeysAreIndependent(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	lifecycle, err := NewRedisLock(client, "cron:lifecycle", 0)
	require.NoError(t, err)
	usage, err := NewRedisLock(client, "cron:usage", 0)
	require.NoError(t, err)

	ok, err := lifecycle.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = usage.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", 0)
	assert.Error(t, err)
	_, client := newRedis(t)
	_, err = NewRedisLock(client, "", 0)
	assert.Error(t, err)
}
