package booking

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/internal/repository"
	"github.com/jwalitptl/booking-api/internal/service/audit"
	"github.com/jwalitptl/booking-api/internal/service/availability"
	"github.com/jwalitptl/booking-api/internal/service/notification"
	"github.com/jwalitptl/booking-api/internal/service/otp"
	"github.com/jwalitptl/booking-api/internal/service/slotlock"
	"github.com/jwalitptl/booking-api/pkg/logger"
	"github.com/jwalitptl/booking-api/pkg/metrics"
	"github.com/jwalitptl/booking-api/pkg/security"
)

type Config struct {
	LockTTL      time.Duration
	DraftTTL     time.Duration
	CodeTTL      time.Duration
	SlotDuration time.Duration
}

// Service coordinates the reservation flow: slot discovery, lock
// acquisition, draft lifecycle, code verification, and the final
// double-check-then-persist commit.
type Service struct {
	locks        *slotlock.Store
	drafts       *DraftStore
	codes        *otp.Service
	calculator   *availability.Service
	appointments repository.AppointmentRepository
	doctors      repository.DoctorRepository
	auditor      *audit.Service
	notifier     notification.Service
	encryptor    security.Encryptor
	logger       *logger.Logger
	m            *metrics.Metrics
	cfg          Config
}

func NewService(
	locks *slotlock.Store,
	drafts *DraftStore,
	codes *otp.Service,
	calculator *availability.Service,
	appointments repository.AppointmentRepository,
	doctors repository.DoctorRepository,
	auditor *audit.Service,
	notifier notification.Service,
	encryptor security.Encryptor,
	l *logger.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	return &Service{
		locks:        locks,
		drafts:       drafts,
		codes:        codes,
		calculator:   calculator,
		appointments: appointments,
		doctors:      doctors,
		auditor:      auditor,
		notifier:     notifier,
		encryptor:    encryptor,
		logger:       l,
		m:            m,
		cfg:          cfg,
	}
}

// SlotQuery selects the doctors and date for an availability query.
// DoctorID and Department are mutually exclusive; with neither set the
// whole tenant is queried.
type SlotQuery struct {
	TenantID   uuid.UUID
	DoctorID   uuid.UUID
	Department string
	Date       time.Time
	Duration   time.Duration
}

// GetAvailableSlots returns the free slots for the queried doctors,
// sorted by start time then doctor name for stable ordering.
func (s *Service) GetAvailableSlots(ctx context.Context, q SlotQuery) ([]model.Slot, error) {
	duration := q.Duration
	if duration <= 0 {
		duration = s.cfg.SlotDuration
	}

	var doctors []*model.Doctor
	if q.DoctorID != uuid.Nil {
		doctor, err := s.doctors.GetDoctor(ctx, q.DoctorID, q.TenantID)
		if err != nil {
			if err == repository.ErrNotFound {
				return []model.Slot{}, nil
			}
			return nil, &PersistenceError{Op: "resolve doctor", Err: err}
		}
		doctors = []*model.Doctor{doctor}
	} else {
		var err error
		doctors, err = s.doctors.ListDoctors(ctx, q.TenantID, q.Department)
		if err != nil {
			return nil, &PersistenceError{Op: "list doctors", Err: err}
		}
	}

	slots := []model.Slot{}
	for _, doctor := range doctors {
		slots = append(slots, s.calculator.SlotsForDoctor(ctx, q.TenantID, doctor, q.Date, duration)...)
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].StartTime.Before(slots[j].StartTime)
		}
		return slots[i].DoctorName < slots[j].DoctorName
	})
	return slots, nil
}

// InitiateInput describes the slot a caller wants to reserve. A zero
// DurationMinutes falls back to the configured slot duration.
type InitiateInput struct {
	TenantID        uuid.UUID
	DoctorID        uuid.UUID
	SlotStart       time.Time
	DurationMinutes int
	ContactIdentity string
}

// InitiateBooking acquires the slot lock and creates a draft. Exactly
// one of two concurrent calls for the same slot succeeds; the loser
// receives ErrSlotUnavailable immediately.
func (s *Service) InitiateBooking(ctx context.Context, in InitiateInput, sessionID string) (*model.ReservationDraft, error) {
	key := slotlock.Key{
		TenantID:  in.TenantID,
		DoctorID:  in.DoctorID,
		SlotStart: in.SlotStart,
	}

	acquired, err := s.locks.Acquire(ctx, key, sessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "acquire slot lock", Err: err}
	}
	if !acquired {
		return nil, ErrSlotUnavailable
	}

	duration := in.DurationMinutes
	if duration == 0 {
		duration = int(s.cfg.SlotDuration.Minutes())
	}
	draft := &model.ReservationDraft{
		BookingID:       uuid.New(),
		TenantID:        in.TenantID,
		DoctorID:        in.DoctorID,
		SlotStart:       in.SlotStart,
		DurationMinutes: duration,
		ContactIdentity: in.ContactIdentity,
		SessionID:       sessionID,
		CreatedAt:       time.Now(),
	}

	if err := s.drafts.Create(ctx, draft); err != nil {
		if _, relErr := s.locks.Release(ctx, key, sessionID); relErr != nil {
			s.logger.Error(relErr, "failed to release lock after draft creation failure",
				"booking_id", draft.BookingID.String())
		}
		return nil, &PersistenceError{Op: "create draft", Err: err}
	}

	s.emitAudit(ctx, audit.EventBookingCreated, draft, map[string]interface{}{
		"doctor_id":  draft.DoctorID,
		"slot_start": draft.SlotStart,
	})
	return draft, nil
}

// RequestCode issues a one-time code for the draft and moves it to
// AWAITING_CODE, re-arming the draft TTL to the code lifetime.
func (s *Service) RequestCode(ctx context.Context, bookingID uuid.UUID) (*model.ReservationDraft, error) {
	draft, err := s.drafts.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(draft.State, model.BookingStateAwaitingCode) {
		return nil, &StateError{Current: draft.State, Attempted: model.BookingStateAwaitingCode}
	}

	code, err := s.codes.Generate(ctx, bookingID, draft.ContactIdentity)
	if err != nil {
		return nil, err
	}

	if err := s.drafts.Transition(ctx, draft, model.BookingStateAwaitingCode, s.cfg.CodeTTL); err != nil {
		return nil, err
	}

	if err := s.notifier.SendCode(ctx, draft.ContactIdentity, code, s.cfg.CodeTTL); err != nil {
		// The stored code stays valid; the caller can request a resend.
		s.logger.Error(err, "failed to deliver verification code",
			"booking_id", bookingID.String())
	}

	s.emitAudit(ctx, audit.EventCodeRequested, draft, nil)
	return draft, nil
}

// ConfirmWithCode verifies the code, re-verifies lock ownership, and
// performs the durable commit. Re-verifying closes the window between
// code verification and the write, during which the lock could expire
// and the slot be handed to another caller.
func (s *Service) ConfirmWithCode(ctx context.Context, bookingID uuid.UUID, code string) (*model.Appointment, error) {
	draft, err := s.drafts.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if draft.State != model.BookingStateAwaitingCode {
		return nil, &StateError{Current: draft.State, Attempted: model.BookingStateConfirmed}
	}

	if err := s.codes.Verify(ctx, bookingID, code); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, audit.EventCodeVerified, draft, nil)

	key := slotlock.Key{
		TenantID:  draft.TenantID,
		DoctorID:  draft.DoctorID,
		SlotStart: draft.SlotStart,
	}

	owned, err := s.locks.VerifyOwnership(ctx, key, draft.SessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "verify lock ownership", Err: err}
	}
	if !owned {
		s.emitAudit(ctx, audit.EventLockExpiredBeforeConfirm, draft, nil)
		if err := s.drafts.Transition(ctx, draft, model.BookingStateExpired, 0); err != nil {
			s.logger.Error(err, "failed to expire draft after lock loss",
				"booking_id", bookingID.String())
		}
		if err := s.drafts.Delete(ctx, bookingID); err != nil {
			s.logger.Error(err, "failed to delete expired draft",
				"booking_id", bookingID.String())
		}
		if s.m != nil {
			s.m.BookingsExpired.Inc()
		}
		return nil, ErrSlotExpired
	}

	if err := s.drafts.Transition(ctx, draft, model.BookingStateConfirmed, 0); err != nil {
		return nil, err
	}

	identity, err := security.EncryptString(s.encryptor, draft.ContactIdentity)
	if err != nil {
		s.rollbackConfirm(ctx, draft, key)
		return nil, &PersistenceError{Op: "encrypt patient identity", Err: err}
	}

	appointment := &model.Appointment{
		Base:            model.Base{ID: uuid.New()},
		TenantID:        draft.TenantID,
		DoctorID:        draft.DoctorID,
		StartTime:       draft.SlotStart,
		EndTime:         draft.SlotStart.Add(time.Duration(draft.DurationMinutes) * time.Minute),
		PatientIdentity: identity,
		Status:          model.AppointmentStatusConfirmed,
	}

	if err := s.appointments.Insert(ctx, appointment); err != nil {
		s.rollbackConfirm(ctx, draft, key)
		return nil, &PersistenceError{Op: "insert appointment", Err: err}
	}

	// The durable record is now the sole authority for this slot.
	if released, err := s.locks.Release(ctx, key, draft.SessionID); err != nil {
		s.logger.Error(err, "failed to release lock after confirmation",
			"booking_id", bookingID.String())
	} else if !released {
		s.logger.Warn("lock already gone at release after confirmation",
			"booking_id", bookingID.String())
	}
	if err := s.drafts.Delete(ctx, bookingID); err != nil {
		s.logger.Error(err, "failed to delete confirmed draft",
			"booking_id", bookingID.String())
	}

	s.emitAudit(ctx, audit.EventBookingConfirmed, draft, map[string]interface{}{
		"appointment_id": appointment.ID,
	})
	s.notifier.NotifyConfirmed(ctx, appointment)
	if s.m != nil {
		s.m.BookingsConfirmed.Inc()
	}
	return appointment, nil
}

// CancelBooking cancels a non-terminal draft owned by the session,
// releasing the lock and invalidating any outstanding code. Cancelling
// an already-terminal draft is rejected to surface caller bugs.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID, sessionID, reason string) error {
	draft, err := s.drafts.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if draft.SessionID != sessionID {
		return ErrUnauthorized
	}
	if !CanTransition(draft.State, model.BookingStateCancelled) {
		return &StateError{Current: draft.State, Attempted: model.BookingStateCancelled}
	}

	if err := s.drafts.Transition(ctx, draft, model.BookingStateCancelled, 0); err != nil {
		return err
	}

	key := slotlock.Key{
		TenantID:  draft.TenantID,
		DoctorID:  draft.DoctorID,
		SlotStart: draft.SlotStart,
	}
	if _, err := s.locks.Release(ctx, key, sessionID); err != nil {
		s.logger.Error(err, "failed to release lock on cancellation",
			"booking_id", bookingID.String())
	}
	if err := s.codes.Invalidate(ctx, bookingID); err != nil {
		s.logger.Error(err, "failed to invalidate code on cancellation",
			"booking_id", bookingID.String())
	}
	if err := s.drafts.Delete(ctx, bookingID); err != nil {
		s.logger.Error(err, "failed to delete cancelled draft",
			"booking_id", bookingID.String())
	}

	s.emitAudit(ctx, audit.EventBookingCancelled, draft, map[string]interface{}{
		"reason": reason,
	})
	if s.m != nil {
		s.m.BookingsCancelled.Inc()
	}
	return nil
}

// rollbackConfirm undoes a CONFIRMED transition whose durable commit
// failed, so the draft is never left CONFIRMED without an appointment.
func (s *Service) rollbackConfirm(ctx context.Context, draft *model.ReservationDraft, key slotlock.Key) {
	if err := s.drafts.Rollback(ctx, draft); err != nil {
		s.logger.Error(err, "failed to roll back draft after persistence failure",
			"booking_id", draft.BookingID.String())
	}
	if _, err := s.locks.Release(ctx, key, draft.SessionID); err != nil {
		s.logger.Error(err, "failed to release lock after persistence failure",
			"booking_id", draft.BookingID.String())
	}
	s.emitAudit(ctx, audit.EventPersistenceRollback, draft, nil)
}

func (s *Service) emitAudit(ctx context.Context, eventType string, draft *model.ReservationDraft, fields map[string]interface{}) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, eventType, draft.TenantID, draft.BookingID, fields); err != nil {
		s.logger.Error(err, "failed to emit audit event",
			"event_type", eventType, "booking_id", draft.BookingID.String())
	}
}
