package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/pkg/keyvalue"
	"github.com/jwalitptl/booking-api/pkg/logger"
	"github.com/jwalitptl/booking-api/pkg/metrics"
	"github.com/jwalitptl/booking-api/pkg/security"
)

var (
	// ErrExpired covers both a code past its TTL and a code record that
	// was already consumed; callers cannot distinguish the two.
	ErrExpired = errors.New("verification code expired")

	// ErrAttemptsExceeded is returned once and destroys the code record;
	// subsequent verifications report ErrExpired.
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
)

// InvalidCodeError reports a mismatched code and how many attempts remain
type InvalidCodeError struct {
	RemainingAttempts int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts remaining", e.RemainingAttempts)
}

// RateLimitedError reports that code generation for a contact identity is
// throttled
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("code generation rate limited, retry after %s", e.RetryAfter)
}

type Config struct {
	CodeLength      int
	CodeTTL         time.Duration
	MaxAttempts     int
	RateLimitMax    int
	RateLimitWindow time.Duration
	// Pepper salts the contact-identity digest used for rate-limit keys.
	Pepper string
}

// Service issues and verifies short single-use numeric codes. Only a
// salted hash is ever stored; the plaintext exists solely in the return
// value of Generate, for out-of-band delivery.
type Service struct {
	kv     keyvalue.Store
	hasher security.CodeHasher
	cfg    Config
	logger *logger.Logger
	m      *metrics.Metrics
}

type codeRecord struct {
	Hash string `json:"hash"`
	Salt string `json:"salt"`
}

func NewService(kv keyvalue.Store, hasher security.CodeHasher, cfg Config, l *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		kv:     kv,
		hasher: hasher,
		cfg:    cfg,
		logger: l,
		m:      m,
	}
}

func codeKey(bookingID uuid.UUID) string     { return "otp:code:" + bookingID.String() }
func attemptsKey(bookingID uuid.UUID) string { return "otp:attempts:" + bookingID.String() }

func (s *Service) rateLimitKey(contactIdentity string) string {
	return "otp:rl:" + security.HashIdentifier(s.cfg.Pepper, contactIdentity)
}

// Generate issues a fresh code for the booking, replacing any earlier
// code and resetting its attempt counter. Generation is rate limited per
// contact identity across bookings.
func (s *Service) Generate(ctx context.Context, bookingID uuid.UUID, contactIdentity string) (string, error) {
	rlKey := s.rateLimitKey(contactIdentity)

	current, err := s.kv.Get(ctx, rlKey)
	if err != nil && !errors.Is(err, keyvalue.ErrNotFound) {
		return "", fmt.Errorf("check rate limit: %w", err)
	}
	if err == nil {
		count, parseErr := strconv.ParseInt(current, 10, 64)
		if parseErr == nil && count >= int64(s.cfg.RateLimitMax) {
			retryAfter, ttlErr := s.kv.TTL(ctx, rlKey)
			if ttlErr != nil || retryAfter <= 0 {
				retryAfter = s.cfg.RateLimitWindow
			}
			return "", &RateLimitedError{RetryAfter: retryAfter}
		}
	}

	code, err := security.GenerateNumericCode(s.cfg.CodeLength)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	hash, salt, err := s.hasher.Hash(code)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}

	record, err := json.Marshal(codeRecord{Hash: hash, Salt: salt})
	if err != nil {
		return "", fmt.Errorf("marshal code record: %w", err)
	}

	if err := s.kv.Set(ctx, codeKey(bookingID), string(record), s.cfg.CodeTTL); err != nil {
		return "", fmt.Errorf("store code record: %w", err)
	}

	// A fresh code starts with a clean attempt budget.
	if err := s.kv.Delete(ctx, attemptsKey(bookingID)); err != nil {
		s.logger.Error(err, "failed to reset attempt counter", "booking_id", bookingID.String())
	}

	if _, err := s.kv.Increment(ctx, rlKey, s.cfg.RateLimitWindow); err != nil {
		s.logger.Error(err, "failed to increment rate limit counter")
	}

	if s.m != nil {
		s.m.CodesIssued.Inc()
	}
	return code, nil
}

// Verify checks a submitted code. A matching code is consumed: the hash
// and attempt records are destroyed so the code can never verify twice.
func (s *Service) Verify(ctx context.Context, bookingID uuid.UUID, submittedCode string) error {
	raw, err := s.kv.Get(ctx, codeKey(bookingID))
	if errors.Is(err, keyvalue.ErrNotFound) {
		s.countVerification("expired")
		return ErrExpired
	}
	if err != nil {
		return fmt.Errorf("load code record: %w", err)
	}

	var record codeRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("unmarshal code record: %w", err)
	}

	attempts, err := s.attempts(ctx, bookingID)
	if err != nil {
		return err
	}
	if attempts >= s.cfg.MaxAttempts {
		if err := s.Invalidate(ctx, bookingID); err != nil {
			s.logger.Error(err, "failed to invalidate exhausted code", "booking_id", bookingID.String())
		}
		s.countVerification("attempts_exceeded")
		return ErrAttemptsExceeded
	}

	if !s.hasher.Compare(record.Hash, record.Salt, submittedCode) {
		count, incErr := s.kv.Increment(ctx, attemptsKey(bookingID), s.cfg.CodeTTL)
		if incErr != nil {
			return fmt.Errorf("increment attempt counter: %w", incErr)
		}
		remaining := s.cfg.MaxAttempts - int(count)
		if remaining < 0 {
			remaining = 0
		}
		s.countVerification("invalid")
		return &InvalidCodeError{RemainingAttempts: remaining}
	}

	// One-time use: destroy the record on success.
	if err := s.Invalidate(ctx, bookingID); err != nil {
		s.logger.Error(err, "failed to consume verified code", "booking_id", bookingID.String())
	}
	s.countVerification("valid")
	return nil
}

// Invalidate destroys the code and attempt records unconditionally, so a
// stale code cannot later confirm a dead booking.
func (s *Service) Invalidate(ctx context.Context, bookingID uuid.UUID) error {
	if err := s.kv.Delete(ctx, codeKey(bookingID)); err != nil {
		return fmt.Errorf("delete code record: %w", err)
	}
	if err := s.kv.Delete(ctx, attemptsKey(bookingID)); err != nil {
		return fmt.Errorf("delete attempt counter: %w", err)
	}
	return nil
}

func (s *Service) attempts(ctx context.Context, bookingID uuid.UUID) (int, error) {
	raw, err := s.kv.Get(ctx, attemptsKey(bookingID))
	if errors.Is(err, keyvalue.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load attempt counter: %w", err)
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse attempt counter: %w", err)
	}
	return count, nil
}

func (s *Service) countVerification(result string) {
	if s.m != nil {
		s.m.CodeVerifications.WithLabelValues(result).Inc()
	}
}
