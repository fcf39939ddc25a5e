package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/internal/repository"
)

func (r *doctorRepository) ListDoctors(ctx context.Context, tenantID uuid.UUID, department string) ([]*model.Doctor, error) {
	query := `
		SELECT id, tenant_id, name, department
		FROM doctors
		WHERE tenant_id = $1
	`
	args := []interface{}{tenantID}
	if department != "" {
		query += ` AND department = $2`
		args = append(args, department)
	}
	query += ` ORDER BY name ASC`

	var doctors []*model.Doctor
	if err := r.db.SelectContext(ctx, &doctors, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return doctors, nil
}

func (r *doctorRepository) GetDoctor(ctx context.Context, id, tenantID uuid.UUID) (*model.Doctor, error) {
	query := `
		SELECT id, tenant_id, name, department
		FROM doctors
		WHERE id = $1 AND tenant_id = $2
	`
	var doctor model.Doctor
	err := r.db.GetContext(ctx, &doctor, query, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	return &doctor, nil
}

func (r *doctorRepository) ListAvailability(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*model.AvailabilityWindow, error) {
	query := `
		SELECT doctor_id, day_of_week, start_time, end_time
		FROM availability_windows
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time ASC
	`
	var windows []*model.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query, doctorID, dayOfWeek); err != nil {
		return nil, fmt.Errorf("failed to list availability windows: %w", err)
	}
	return windows, nil
}
