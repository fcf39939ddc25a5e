package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/booking-api/internal/repository"
)

type appointmentRepository struct {
	db *sqlx.DB
}

type doctorRepository struct {
	db *sqlx.DB
}

type outboxRepository struct {
	db *sqlx.DB
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{db: db}
}

func NewDoctorRepository(db *sqlx.DB) repository.DoctorRepository {
	return &doctorRepository{db: db}
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{db: db}
}
