package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/internal/repository"
)

// Event types emitted by the reservation engine
const (
	EventBookingCreated           = "booking_created"
	EventCodeRequested            = "code_requested"
	EventCodeVerified             = "code_verified"
	EventBookingConfirmed         = "booking_confirmed"
	EventBookingCancelled         = "booking_cancelled"
	EventLockExpiredBeforeConfirm = "lock_expired_before_confirm"
	EventPersistenceRollback      = "persistence_rollback"
)

// Service stages audit events in the durable outbox; a worker publishes
// them asynchronously. Payloads carry identifiers and outcome codes
// only — never contact identities or verification codes.
type Service struct {
	repo repository.OutboxRepository
}

func NewService(repo repository.OutboxRepository) *Service {
	return &Service{repo: repo}
}

// Emit records an audit event for the booking. Extra fields merge into
// the payload alongside the identifiers.
func (s *Service) Emit(ctx context.Context, eventType string, tenantID, bookingID uuid.UUID, fields map[string]interface{}) error {
	payload := map[string]interface{}{
		"tenant_id":   tenantID,
		"booking_id":  bookingID,
		"occurred_at": time.Now().UTC(),
	}
	for k, v := range fields {
		payload[k] = v
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	return s.repo.Create(ctx, &model.OutboxEvent{
		EventType: eventType,
		Payload:   raw,
	})
}
