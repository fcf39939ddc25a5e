package slotlock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/booking-api/pkg/keyvalue"
	"github.com/jwalitptl/booking-api/pkg/metrics"
)

func setupStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(keyvalue.NewRedisStoreWithClient(client), ttl, nil), mr
}

func testKey() Key {
	return Key{
		TenantID:  uuid.New(),
		DoctorID:  uuid.New(),
		SlotStart: time.Date(2026, 9, 6, 10, 0, 0, 0, time.UTC),
	}
}

func TestKeyIsTenantScoped(t *testing.T) {
	doctorID := uuid.New()
	start := time.Date(2026, 9, 6, 10, 0, 0, 0, time.UTC)

	a := Key{TenantID: uuid.New(), DoctorID: doctorID, SlotStart: start}
	b := Key{TenantID: uuid.New(), DoctorID: doctorID, SlotStart: start}

	assert.NotEqual(t, a.String(), b.String())
}

func TestAcquireContention(t *testing.T) {
	store, _ := setupStore(t, 10*time.Minute)
	ctx := context.Background()
	key := testKey()

	ok, err := store.Acquire(ctx, key, "session-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, key, "session-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	store, _ := setupStore(t, 10*time.Minute)
	key := testKey()

	const callers = 20
	var winners int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(n int) {
			defer wg.Done()
			ok, err := store.Acquire(context.Background(), key, fmt.Sprintf("session-%d", n))
			if err == nil && ok {
				atomic.AddInt64(&winners, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners, "exactly one caller must win the slot")
}

func TestReleaseOnlyByOwner(t *testing.T) {
	store, _ := setupStore(t, 10*time.Minute)
	ctx := context.Background()
	key := testKey()

	_, err := store.Acquire(ctx, key, "session-1")
	require.NoError(t, err)

	released, err := store.Release(ctx, key, "session-2")
	require.NoError(t, err)
	assert.False(t, released)

	locked, err := store.IsLocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, locked, "foreign release must leave the lock intact")

	released, err = store.Release(ctx, key, "session-1")
	require.NoError(t, err)
	assert.True(t, released)

	locked, err = store.IsLocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestVerifyOwnership(t *testing.T) {
	store, mr := setupStore(t, 10*time.Minute)
	ctx := context.Background()
	key := testKey()

	_, err := store.Acquire(ctx, key, "session-1")
	require.NoError(t, err)

	owned, err := store.VerifyOwnership(ctx, key, "session-1")
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = store.VerifyOwnership(ctx, key, "session-2")
	require.NoError(t, err)
	assert.False(t, owned)

	mr.FastForward(11 * time.Minute)

	owned, err = store.VerifyOwnership(ctx, key, "session-1")
	require.NoError(t, err)
	assert.False(t, owned, "expired lock is owned by nobody")
}

func TestLockExpiresAfterTTL(t *testing.T) {
	store, mr := setupStore(t, 10*time.Minute)
	ctx := context.Background()
	key := testKey()

	_, err := store.Acquire(ctx, key, "session-1")
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)

	ok, err := store.Acquire(ctx, key, "session-2")
	require.NoError(t, err)
	assert.True(t, ok, "slot must be reacquirable after TTL")

	// The original owner can no longer release the reacquired lock.
	released, err := store.Release(ctx, key, "session-1")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestStoreRecordsOperationMetrics(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	m := metrics.NewMetrics("booking", "slotlock_test")
	store := NewStore(keyvalue.NewRedisStoreWithClient(client), time.Minute, m)

	ctx := context.Background()
	key := testKey()

	ok, err := store.Acquire(ctx, key, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Acquire(ctx, key, "owner-2")
	require.NoError(t, err)
	require.False(t, ok)

	released, err := store.Release(ctx, key, "owner-1")
	require.NoError(t, err)
	require.True(t, released)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockAcquisitions.WithLabelValues("acquired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockAcquisitions.WithLabelValues("contended")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RedisOperations.WithLabelValues("setnx", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisOperations.WithLabelValues("compare_and_delete", "success")))
}
