package booking

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/pkg/keyvalue"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    model.BookingState
		to      model.BookingState
		allowed bool
	}{
		{model.BookingStateInitiated, model.BookingStateAwaitingCode, true},
		{model.BookingStateInitiated, model.BookingStateCancelled, true},
		{model.BookingStateInitiated, model.BookingStateExpired, true},
		{model.BookingStateInitiated, model.BookingStateConfirmed, false},
		{model.BookingStateInitiated, model.BookingStateInitiated, false},

		{model.BookingStateAwaitingCode, model.BookingStateAwaitingCode, true},
		{model.BookingStateAwaitingCode, model.BookingStateConfirmed, true},
		{model.BookingStateAwaitingCode, model.BookingStateCancelled, true},
		{model.BookingStateAwaitingCode, model.BookingStateExpired, true},
		{model.BookingStateAwaitingCode, model.BookingStateInitiated, false},

		{model.BookingStateConfirmed, model.BookingStateCancelled, false},
		{model.BookingStateConfirmed, model.BookingStateExpired, false},
		{model.BookingStateConfirmed, model.BookingStateAwaitingCode, false},
		{model.BookingStateCancelled, model.BookingStateAwaitingCode, false},
		{model.BookingStateCancelled, model.BookingStateConfirmed, false},
		{model.BookingStateExpired, model.BookingStateConfirmed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(model.BookingStateInitiated))
	assert.False(t, IsTerminal(model.BookingStateAwaitingCode))
	assert.True(t, IsTerminal(model.BookingStateConfirmed))
	assert.True(t, IsTerminal(model.BookingStateCancelled))
	assert.True(t, IsTerminal(model.BookingStateExpired))
}

func setupDraftStore(t *testing.T, ttl time.Duration) (*DraftStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDraftStore(keyvalue.NewRedisStoreWithClient(client), ttl), mr
}

func testDraft() *model.ReservationDraft {
	return &model.ReservationDraft{
		BookingID:       uuid.New(),
		TenantID:        uuid.New(),
		DoctorID:        uuid.New(),
		SlotStart:       time.Date(2026, 9, 6, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 15,
		ContactIdentity: "patient@example.com",
		SessionID:       "session-1",
		CreatedAt:       time.Now(),
	}
}

func TestDraftLifecycle(t *testing.T) {
	store, _ := setupDraftStore(t, 10*time.Minute)
	ctx := context.Background()
	draft := testDraft()

	require.NoError(t, store.Create(ctx, draft))
	assert.Equal(t, model.BookingStateInitiated, draft.State, "Create forces INITIATED")

	loaded, err := store.Get(ctx, draft.BookingID)
	require.NoError(t, err)
	assert.Equal(t, draft.BookingID, loaded.BookingID)
	assert.Equal(t, model.BookingStateInitiated, loaded.State)
	assert.Equal(t, "session-1", loaded.SessionID)

	require.NoError(t, store.Transition(ctx, loaded, model.BookingStateAwaitingCode, 0))

	loaded, err = store.Get(ctx, draft.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStateAwaitingCode, loaded.State)
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	store, _ := setupDraftStore(t, 10*time.Minute)
	ctx := context.Background()
	draft := testDraft()

	require.NoError(t, store.Create(ctx, draft))

	err := store.Transition(ctx, draft, model.BookingStateConfirmed, 0)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, model.BookingStateInitiated, stateErr.Current)
	assert.Equal(t, model.BookingStateConfirmed, stateErr.Attempted)

	// The stored draft is untouched.
	loaded, err := store.Get(ctx, draft.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStateInitiated, loaded.State)
}

func TestDraftExpiresAsNotFound(t *testing.T) {
	store, mr := setupDraftStore(t, 10*time.Minute)
	ctx := context.Background()
	draft := testDraft()

	require.NoError(t, store.Create(ctx, draft))

	mr.FastForward(11 * time.Minute)

	_, err := store.Get(ctx, draft.BookingID)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestTransitionRearmsTTL(t *testing.T) {
	store, mr := setupDraftStore(t, 10*time.Minute)
	ctx := context.Background()
	draft := testDraft()

	require.NoError(t, store.Create(ctx, draft))

	mr.FastForward(8 * time.Minute)

	// Re-arm clamps the draft lifetime to the shorter code TTL.
	require.NoError(t, store.Transition(ctx, draft, model.BookingStateAwaitingCode, 5*time.Minute))

	mr.FastForward(4 * time.Minute)
	_, err := store.Get(ctx, draft.BookingID)
	require.NoError(t, err, "draft must survive within the re-armed window")

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, draft.BookingID)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestRollbackForcesCancelled(t *testing.T) {
	store, _ := setupDraftStore(t, 10*time.Minute)
	ctx := context.Background()
	draft := testDraft()

	require.NoError(t, store.Create(ctx, draft))
	require.NoError(t, store.Transition(ctx, draft, model.BookingStateAwaitingCode, 0))
	require.NoError(t, store.Transition(ctx, draft, model.BookingStateConfirmed, 0))

	// CONFIRMED admits no table transition, only the rollback escape.
	require.NoError(t, store.Rollback(ctx, draft))

	loaded, err := store.Get(ctx, draft.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStateCancelled, loaded.State)
}

func TestDeleteDraft(t *testing.T) {
	store, _ := setupDraftStore(t, 10*time.Minute)
	ctx := context.Background()
	draft := testDraft()

	require.NoError(t, store.Create(ctx, draft))
	require.NoError(t, store.Delete(ctx, draft.BookingID))

	_, err := store.Get(ctx, draft.BookingID)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}
