package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/pkg/keyvalue"
)

// transitions is the only permitted mutation path for a draft's state.
// AWAITING_CODE self-transitions on code resend.
var transitions = map[model.BookingState][]model.BookingState{
	model.BookingStateInitiated: {
		model.BookingStateAwaitingCode,
		model.BookingStateCancelled,
		model.BookingStateExpired,
	},
	model.BookingStateAwaitingCode: {
		model.BookingStateAwaitingCode,
		model.BookingStateConfirmed,
		model.BookingStateCancelled,
		model.BookingStateExpired,
	},
	model.BookingStateConfirmed: {},
	model.BookingStateCancelled: {},
	model.BookingStateExpired:   {},
}

// CanTransition reports whether from → to is a legal transition
func CanTransition(from, to model.BookingState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions
func IsTerminal(state model.BookingState) bool {
	return len(transitions[state]) == 0
}

// DraftStore persists reservation drafts in the ephemeral store under a
// TTL. A draft that expires without an explicit transition is treated as
// EXPIRED: a missing draft and an expired draft are indistinguishable.
type DraftStore struct {
	kv  keyvalue.Store
	ttl time.Duration
}

func NewDraftStore(kv keyvalue.Store, ttl time.Duration) *DraftStore {
	return &DraftStore{kv: kv, ttl: ttl}
}

func draftKey(bookingID uuid.UUID) string {
	return "booking:draft:" + bookingID.String()
}

// Create writes a fresh draft in INITIATED with the store's TTL
func (d *DraftStore) Create(ctx context.Context, draft *model.ReservationDraft) error {
	draft.State = model.BookingStateInitiated
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := d.kv.Set(ctx, draftKey(draft.BookingID), string(raw), d.ttl); err != nil {
		return fmt.Errorf("store draft: %w", err)
	}
	return nil
}

// Get loads a draft; a missing or expired draft yields ErrBookingNotFound
func (d *DraftStore) Get(ctx context.Context, bookingID uuid.UUID) (*model.ReservationDraft, error) {
	raw, err := d.kv.Get(ctx, draftKey(bookingID))
	if errors.Is(err, keyvalue.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	var draft model.ReservationDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	return &draft, nil
}

// Transition moves the draft to a new state and re-arms its TTL. A ttl
// of zero keeps the store's default.
func (d *DraftStore) Transition(ctx context.Context, draft *model.ReservationDraft, to model.BookingState, ttl time.Duration) error {
	if !CanTransition(draft.State, to) {
		return &StateError{Current: draft.State, Attempted: to}
	}
	if ttl <= 0 {
		ttl = d.ttl
	}

	draft.State = to
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := d.kv.Set(ctx, draftKey(draft.BookingID), string(raw), ttl); err != nil {
		return fmt.Errorf("store draft: %w", err)
	}
	return nil
}

// Rollback forces a draft into CANCELLED outside the transition table.
// It exists solely to undo a CONFIRMED transition whose durable write
// failed; a draft must never be left CONFIRMED with no appointment.
func (d *DraftStore) Rollback(ctx context.Context, draft *model.ReservationDraft) error {
	draft.State = model.BookingStateCancelled
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := d.kv.Set(ctx, draftKey(draft.BookingID), string(raw), d.ttl); err != nil {
		return fmt.Errorf("store draft: %w", err)
	}
	return nil
}

// Delete removes the draft unconditionally
func (d *DraftStore) Delete(ctx context.Context, bookingID uuid.UUID) error {
	if err := d.kv.Delete(ctx, draftKey(bookingID)); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}
