package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Doctor is a bookable provider within a tenant
type Doctor struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TenantID   uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Name       string    `db:"name" json:"name"`
	Department string    `db:"department" json:"department"`
}

// AvailabilityWindow is a weekly recurring window during which a doctor
// accepts appointments. Hospital-administered; read-only to the engine.
type AvailabilityWindow struct {
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
}

// MinuteOfDay parses an "HH:MM" window boundary into minutes past
// midnight.
func MinuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Slot is a single bookable candidate, computed on demand and never
// persisted.
type Slot struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	DoctorName      string    `json:"doctor_name"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}
