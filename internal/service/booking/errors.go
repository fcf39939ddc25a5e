package booking

import (
	"errors"
	"fmt"

	"github.com/jwalitptl/booking-api/internal/model"
)

var (
	// ErrSlotUnavailable means another caller holds the slot lock; the
	// caller must pick a different slot.
	ErrSlotUnavailable = errors.New("slot is no longer available")

	// ErrSlotExpired means the lock was lost between steps; the caller
	// must restart the booking flow.
	ErrSlotExpired = errors.New("slot reservation expired")

	// ErrBookingNotFound covers both an unknown booking and a draft
	// reclaimed by TTL expiry; the two are indistinguishable.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrUnauthorized means the caller's session does not own the draft
	ErrUnauthorized = errors.New("session does not own this booking")
)

// StateError reports a transition attempted from the wrong state
type StateError struct {
	Current   model.BookingState
	Attempted model.BookingState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("booking in state %s, cannot transition to %s", e.Current, e.Attempted)
}

// PersistenceError signals a transient infrastructure failure, distinct
// from caller errors. In-flight state has been rolled back best-effort.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
