package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingState string

const (
	BookingStateInitiated    BookingState = "INITIATED"
	BookingStateAwaitingCode BookingState = "AWAITING_CODE"
	BookingStateConfirmed    BookingState = "CONFIRMED"
	BookingStateCancelled    BookingState = "CANCELLED"
	BookingStateExpired      BookingState = "EXPIRED"
)

// ReservationDraft is an in-flight, not-yet-durable reservation attempt.
// It lives in the ephemeral store under a TTL and is mutated only through
// state-machine transitions.
type ReservationDraft struct {
	BookingID       uuid.UUID    `json:"booking_id"`
	TenantID        uuid.UUID    `json:"tenant_id"`
	DoctorID        uuid.UUID    `json:"doctor_id"`
	SlotStart       time.Time    `json:"slot_start"`
	DurationMinutes int          `json:"duration_minutes"`
	ContactIdentity string       `json:"contact_identity"`
	State           BookingState `json:"state"`
	SessionID       string       `json:"session_id"`
	CreatedAt       time.Time    `json:"created_at"`
}
