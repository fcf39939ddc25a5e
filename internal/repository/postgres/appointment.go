package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/internal/repository"
)

func (r *appointmentRepository) Insert(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, tenant_id, doctor_id, start_time, end_time,
			patient_identity, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	now := time.Now()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		appointment.ID,
		appointment.TenantID,
		appointment.DoctorID,
		appointment.StartTime,
		appointment.EndTime,
		appointment.PatientIdentity,
		appointment.Status,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) QueryStartTimes(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT start_time
		FROM appointments
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		  AND status NOT IN ($4, $5)
		ORDER BY start_time ASC
	`
	var starts []time.Time
	err := r.db.SelectContext(ctx, &starts, query, doctorID, from, to,
		model.AppointmentStatusCancelled, model.AppointmentStatusArchived)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointment start times: %w", err)
	}
	return starts, nil
}

func (r *appointmentRepository) Get(ctx context.Context, id, tenantID uuid.UUID) (*model.Appointment, error) {
	query := `
		SELECT id, tenant_id, doctor_id, start_time, end_time,
			   patient_identity, status, cancel_reason, created_at, updated_at
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
	`
	var appointment model.Appointment
	err := r.db.GetContext(ctx, &appointment, query, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id, tenantID uuid.UUID, status model.AppointmentStatus) error {
	query := `
		UPDATE appointments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
	`
	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
