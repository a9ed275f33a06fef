package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
)

func setupMiniredis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := FromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestSetNXHonoursExistingKeyUntilExpiry(t *testing.T) {
	ctx := context.Background()
	client, mr := setupMiniredis(t)

	ok, err := client.SetNX(ctx, "ent:lock:job", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "ent:lock:job", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = client.SetNX(ctx, "ent:lock:job", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	client, _ := setupMiniredis(t)
	_, err := client.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestReleaseIfOwnerOnlyDeletesOwnValue(t *testing.T) {
	ctx := context.Background()
	client, mr := setupMiniredis(t)
	require.NoError(t, mr.Set("ent:lock:usage", "owner-a"))

	released, err := client.ReleaseIfOwner(ctx, "ent:lock:usage", "owner-b")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("ent:lock:usage"))

	released, err = client.ReleaseIfOwner(ctx, "ent:lock:usage", "owner-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("ent:lock:usage"))

	released, err = client.ReleaseIfOwner(ctx, "ent:lock:usage", "owner-a")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestSetGetDelAndPing(t *testing.T) {
	ctx := context.Background()
	client, mr := setupMiniredis(t)
	require.NoError(t, client.Set(ctx, "k", "v", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	got, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	require.NoError(t, client.Del(ctx, "k"))
	assert.False(t, mr.Exists("k"))
	require.NoError(t, client.Ping(ctx))
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "ent:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "ent:lock:subscription-lifecycle", client.LockKey("subscription-lifecycle"))
	assert.Equal(t, "ent:idempotency:id", client.IdempotencyKey(" ", "id"))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/3", PoolSize: 7, ReadTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, time.Second, opts.ReadTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6380", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	assert.ErrorIs(t, client.Ping(context.Background()), errNotInitialized)
	_, err := client.ReleaseIfOwner(context.Background(), "k", "o")
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}
