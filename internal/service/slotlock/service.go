package slotlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/pkg/keyvalue"
	"github.com/jwalitptl/booking-api/pkg/metrics"
)

// Key identifies a slot. Locks are namespaced per tenant; a tenant's
// locks never collide with another tenant's.
type Key struct {
	TenantID  uuid.UUID
	DoctorID  uuid.UUID
	SlotStart time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("slotlock:%s:%s:%d", k.TenantID, k.DoctorID, k.SlotStart.Unix())
}

// Store guards slots against concurrent reservation. At most one live
// lock may exist per key; the TTL bounds how long an abandoned
// reservation can hold a slot.
type Store struct {
	kv      keyvalue.Store
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewStore(kv keyvalue.Store, ttl time.Duration, m *metrics.Metrics) *Store {
	return &Store{
		kv:      kv,
		ttl:     ttl,
		metrics: m,
	}
}

// Acquire takes the lock for ownerID if no live lock exists. The write
// is a single atomic step in the backing store; there is no read-then-
// write window for a racing caller to slip through.
func (s *Store) Acquire(ctx context.Context, key Key, ownerID string) (bool, error) {
	ok, err := s.kv.Acquire(ctx, key.String(), ownerID, s.ttl)
	s.observe("setnx", err)
	if err != nil {
		return false, fmt.Errorf("acquire slot lock: %w", err)
	}
	if s.metrics != nil {
		outcome := "acquired"
		if !ok {
			outcome = "contended"
		}
		s.metrics.LockAcquisitions.WithLabelValues(outcome).Inc()
	}
	return ok, nil
}

// Release deletes the lock only if ownerID still holds it. A lock that
// expired and was re-acquired by another caller is left untouched.
func (s *Store) Release(ctx context.Context, key Key, ownerID string) (bool, error) {
	ok, err := s.kv.CompareAndDelete(ctx, key.String(), ownerID)
	s.observe("compare_and_delete", err)
	if err != nil {
		return false, fmt.Errorf("release slot lock: %w", err)
	}
	return ok, nil
}

// VerifyOwnership reports whether ownerID currently holds the lock,
// without mutating it.
func (s *Store) VerifyOwnership(ctx context.Context, key Key, ownerID string) (bool, error) {
	val, err := s.kv.Get(ctx, key.String())
	s.observe("get", err)
	if errors.Is(err, keyvalue.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify slot lock ownership: %w", err)
	}
	return val == ownerID, nil
}

// IsLocked reports whether any live lock exists for the key
func (s *Store) IsLocked(ctx context.Context, key Key) (bool, error) {
	_, err := s.kv.Get(ctx, key.String())
	s.observe("get", err)
	if errors.Is(err, keyvalue.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check slot lock: %w", err)
	}
	return true, nil
}

// observe counts the backing-store round trip. A missing key is a
// normal outcome, not a store failure.
func (s *Store) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, keyvalue.ErrNotFound) {
		status = "error"
	}
	s.metrics.RedisOperations.WithLabelValues(op, status).Inc()
}
