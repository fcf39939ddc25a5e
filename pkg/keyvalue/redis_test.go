package keyvalue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "lock:a", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, "lock:a", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must lose")

	val, err := store.Get(ctx, "lock:a")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", val)
}

func TestAcquireAfterExpiry(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "lock:a", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = store.Acquire(ctx, "lock:a", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be acquirable")
}

func TestCompareAndDelete(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "lock:a", "owner-1", time.Minute))

	deleted, err := store.CompareAndDelete(ctx, "lock:a", "owner-2")
	require.NoError(t, err)
	assert.False(t, deleted, "wrong owner must not delete")

	_, err = store.Get(ctx, "lock:a")
	assert.NoError(t, err)

	deleted, err = store.CompareAndDelete(ctx, "lock:a", "owner-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.Get(ctx, "lock:a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndDeleteMissingKey(t *testing.T) {
	store, _ := setupStore(t)

	deleted, err := store.CompareAndDelete(context.Background(), "lock:gone", "owner-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestGetMissingKey(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementArmsTTLOnce(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	count, err := store.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Later increments must not slide the window.
	mr.FastForward(30 * time.Second)
	count, err = store.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ttl, err := store.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 30*time.Second)

	mr.FastForward(time.Minute)
	count, err = store.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired counter restarts from one")
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))
}

func TestTTLMissingKey(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.TTL(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
