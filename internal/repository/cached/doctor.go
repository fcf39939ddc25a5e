package cached

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/internal/repository"
)

// doctorRepository is a read-through cache in front of the doctor
// directory. Doctors and weekly windows are hospital-administered and
// change rarely; computed slots are never cached here.
type doctorRepository struct {
	inner repository.DoctorRepository
	cache *cache.Cache
}

func NewDoctorRepository(inner repository.DoctorRepository, ttl time.Duration) repository.DoctorRepository {
	return &doctorRepository{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (r *doctorRepository) ListDoctors(ctx context.Context, tenantID uuid.UUID, department string) ([]*model.Doctor, error) {
	key := fmt.Sprintf("doctors:%s:%s", tenantID, department)
	if v, ok := r.cache.Get(key); ok {
		return v.([]*model.Doctor), nil
	}

	doctors, err := r.inner.ListDoctors(ctx, tenantID, department)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, doctors)
	return doctors, nil
}

func (r *doctorRepository) GetDoctor(ctx context.Context, id, tenantID uuid.UUID) (*model.Doctor, error) {
	key := fmt.Sprintf("doctor:%s:%s", tenantID, id)
	if v, ok := r.cache.Get(key); ok {
		return v.(*model.Doctor), nil
	}

	doctor, err := r.inner.GetDoctor(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, doctor)
	return doctor, nil
}

func (r *doctorRepository) ListAvailability(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*model.AvailabilityWindow, error) {
	key := fmt.Sprintf("availability:%s:%d", doctorID, dayOfWeek)
	if v, ok := r.cache.Get(key); ok {
		return v.([]*model.AvailabilityWindow), nil
	}

	windows, err := r.inner.ListAvailability(ctx, doctorID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, windows)
	return windows, nil
}
