package availability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/internal/repository"
	"github.com/jwalitptl/booking-api/internal/service/slotlock"
	"github.com/jwalitptl/booking-api/pkg/logger"
)

// Service derives bookable slots from weekly availability windows,
// committed appointments, and live slot locks. It has no side effects
// and is safe to call concurrently.
type Service struct {
	doctors      repository.DoctorRepository
	appointments repository.AppointmentRepository
	locks        *slotlock.Store
	logger       *logger.Logger
	now          func() time.Time
}

func NewService(
	doctors repository.DoctorRepository,
	appointments repository.AppointmentRepository,
	locks *slotlock.Store,
	l *logger.Logger,
) *Service {
	return &Service{
		doctors:      doctors,
		appointments: appointments,
		locks:        locks,
		logger:       l,
		now:          time.Now,
	}
}

// WithClock overrides the time source, used by tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SlotsForDoctor enumerates the doctor's free slots on the given date.
// Lookup failures yield an empty list rather than an error: for the
// booking flow "no slots" and "lookup failed" are operationally
// equivalent, and the failure is logged for observability.
func (s *Service) SlotsForDoctor(ctx context.Context, tenantID uuid.UUID, doctor *model.Doctor, date time.Time, duration time.Duration) []model.Slot {
	windows, err := s.doctors.ListAvailability(ctx, doctor.ID, int(date.Weekday()))
	if err != nil {
		s.logger.Warn("availability lookup failed, returning no slots",
			"doctor_id", doctor.ID.String(), "error", err.Error())
		return nil
	}
	if len(windows) == 0 {
		return nil
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	booked, err := s.appointments.QueryStartTimes(ctx, doctor.ID, dayStart, dayEnd)
	if err != nil {
		s.logger.Warn("appointment occupancy lookup failed, returning no slots",
			"doctor_id", doctor.ID.String(), "error", err.Error())
		return nil
	}
	occupied := make(map[int64]struct{}, len(booked))
	for _, t := range booked {
		occupied[t.Unix()] = struct{}{}
	}

	now := s.now()
	var slots []model.Slot
	for _, w := range windows {
		startMin, err := model.MinuteOfDay(w.StartTime)
		if err != nil {
			s.logger.Warn("skipping malformed availability window",
				"doctor_id", doctor.ID.String(), "start_time", w.StartTime)
			continue
		}
		endMin, err := model.MinuteOfDay(w.EndTime)
		if err != nil {
			s.logger.Warn("skipping malformed availability window",
				"doctor_id", doctor.ID.String(), "end_time", w.EndTime)
			continue
		}

		step := int(duration.Minutes())
		if step <= 0 {
			continue
		}
		for m := startMin; m+step <= endMin; m += step {
			start := dayStart.Add(time.Duration(m) * time.Minute)
			if start.Before(now) {
				continue
			}
			if _, taken := occupied[start.Unix()]; taken {
				continue
			}

			locked, err := s.locks.IsLocked(ctx, slotlock.Key{
				TenantID:  tenantID,
				DoctorID:  doctor.ID,
				SlotStart: start,
			})
			if err != nil {
				// Treat an unreadable lock as held: offering a slot that
				// may be locked risks an immediate SlotUnavailable.
				s.logger.Warn("slot lock lookup failed, treating slot as held",
					"doctor_id", doctor.ID.String(), "error", err.Error())
				continue
			}
			if locked {
				continue
			}

			slots = append(slots, model.Slot{
				DoctorID:        doctor.ID,
				DoctorName:      doctor.Name,
				StartTime:       start,
				DurationMinutes: step,
			})
		}
	}
	return slots
}
