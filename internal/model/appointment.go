package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusExpired   AppointmentStatus = "expired"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
	AppointmentStatusCheckedIn AppointmentStatus = "checked_in"
	AppointmentStatusArchived  AppointmentStatus = "archived"
)

// Appointment is the durable record written on confirmation. Once it
// exists it is the sole ownership authority for its slot; the ephemeral
// lock and draft are discarded.
type Appointment struct {
	Base
	TenantID        uuid.UUID         `db:"tenant_id" json:"tenant_id"`
	DoctorID        uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	StartTime       time.Time         `db:"start_time" json:"start_time"`
	EndTime         time.Time         `db:"end_time" json:"end_time"`
	PatientIdentity string            `db:"patient_identity" json:"-"`
	Status          AppointmentStatus `db:"status" json:"status"`
	CancelReason    *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
}
