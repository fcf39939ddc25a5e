package notification

import (
	"context"
	"time"

	"github.com/jwalitptl/booking-api/internal/email"
	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/pkg/logger"
	"github.com/jwalitptl/booking-api/pkg/messaging"
)

const confirmationChannel = "appointments.confirmed"

// Service handles fire-and-forget delivery around the booking flow.
// Failures are logged and never propagate: a confirmed appointment is
// never rolled back or blocked because a message could not be sent.
type Service interface {
	SendCode(ctx context.Context, contactIdentity, code string, expiresIn time.Duration) error
	NotifyConfirmed(ctx context.Context, appointment *model.Appointment)
}

type service struct {
	emailSvc email.Service
	broker   messaging.Broker
	logger   *logger.Logger
}

func NewService(emailSvc email.Service, broker messaging.Broker, l *logger.Logger) Service {
	return &service{
		emailSvc: emailSvc,
		broker:   broker,
		logger:   l,
	}
}

// SendCode delivers a one-time code. Delivery failure is surfaced so
// the caller can tell the user to retry; the code itself stays valid.
func (s *service) SendCode(ctx context.Context, contactIdentity, code string, expiresIn time.Duration) error {
	return s.emailSvc.SendCode(ctx, contactIdentity, code, expiresIn)
}

// NotifyConfirmed publishes a redacted confirmation payload to the
// downstream queue. The payload carries identifiers only.
func (s *service) NotifyConfirmed(ctx context.Context, appointment *model.Appointment) {
	payload := map[string]interface{}{
		"appointment_id": appointment.ID,
		"tenant_id":      appointment.TenantID,
		"doctor_id":      appointment.DoctorID,
		"start_time":     appointment.StartTime,
		"status":         appointment.Status,
	}
	if err := s.broker.Publish(ctx, confirmationChannel, payload); err != nil {
		s.logger.Error(err, "failed to publish confirmation notification",
			"appointment_id", appointment.ID.String())
	}
}
