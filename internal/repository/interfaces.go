package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/internal/model"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// AppointmentRepository is the durable appointment store
type AppointmentRepository interface {
	Insert(ctx context.Context, appointment *model.Appointment) error
	// QueryStartTimes returns the start times of non-cancelled
	// appointments for the doctor within [from, to).
	QueryStartTimes(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error)
	Get(ctx context.Context, id, tenantID uuid.UUID) (*model.Appointment, error)
	UpdateStatus(ctx context.Context, id, tenantID uuid.UUID, status model.AppointmentStatus) error
}

// DoctorRepository is the tenant/doctor directory
type DoctorRepository interface {
	ListDoctors(ctx context.Context, tenantID uuid.UUID, department string) ([]*model.Doctor, error)
	GetDoctor(ctx context.Context, id, tenantID uuid.UUID) (*model.Doctor, error)
	ListAvailability(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*model.AvailabilityWindow, error)
}

// OutboxRepository stages audit events for asynchronous publication
type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
