package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/booking-api/internal/model"
	"github.com/jwalitptl/booking-api/internal/repository"
	"github.com/jwalitptl/booking-api/internal/service/audit"
	"github.com/jwalitptl/booking-api/internal/service/availability"
	"github.com/jwalitptl/booking-api/internal/service/otp"
	"github.com/jwalitptl/booking-api/internal/service/slotlock"
	"github.com/jwalitptl/booking-api/pkg/keyvalue"
	"github.com/jwalitptl/booking-api/pkg/logger"
	"github.com/jwalitptl/booking-api/pkg/security"
)

type memDoctorRepo struct {
	doctors []*model.Doctor
	windows map[uuid.UUID][]*model.AvailabilityWindow
}

func (m *memDoctorRepo) ListDoctors(ctx context.Context, tenantID uuid.UUID, department string) ([]*model.Doctor, error) {
	var out []*model.Doctor
	for _, d := range m.doctors {
		if d.TenantID != tenantID {
			continue
		}
		if department != "" && d.Department != department {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *memDoctorRepo) GetDoctor(ctx context.Context, id, tenantID uuid.UUID) (*model.Doctor, error) {
	for _, d := range m.doctors {
		if d.ID == id && d.TenantID == tenantID {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memDoctorRepo) ListAvailability(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*model.AvailabilityWindow, error) {
	var out []*model.AvailabilityWindow
	for _, w := range m.windows[doctorID] {
		if w.DayOfWeek == dayOfWeek {
			out = append(out, w)
		}
	}
	return out, nil
}

type memAppointmentRepo struct {
	mu        sync.Mutex
	inserted  []*model.Appointment
	insertErr error
}

func (m *memAppointmentRepo) Insert(ctx context.Context, appointment *model.Appointment) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, appointment)
	return nil
}

func (m *memAppointmentRepo) QueryStartTimes(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, a := range m.inserted {
		if a.DoctorID == doctorID && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a.StartTime)
		}
	}
	return out, nil
}

func (m *memAppointmentRepo) Get(ctx context.Context, id, tenantID uuid.UUID) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.inserted {
		if a.ID == id && a.TenantID == tenantID {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAppointmentRepo) UpdateStatus(ctx context.Context, id, tenantID uuid.UUID, status model.AppointmentStatus) error {
	return nil
}

type memOutboxRepo struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
}

func (m *memOutboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memOutboxRepo) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}

func (m *memOutboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error { return nil }

func (m *memOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return nil
}

func (m *memOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m *memOutboxRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.events))
	for _, e := range m.events {
		types = append(types, e.EventType)
	}
	return types
}

type captureNotifier struct {
	mu        sync.Mutex
	lastCode  string
	confirmed []*model.Appointment
}

func (c *captureNotifier) SendCode(ctx context.Context, contactIdentity, code string, expiresIn time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCode = code
	return nil
}

func (c *captureNotifier) NotifyConfirmed(ctx context.Context, appointment *model.Appointment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = append(c.confirmed, appointment)
}

type engineFixture struct {
	svc       *Service
	mr        *miniredis.Miniredis
	locks     *slotlock.Store
	doctors   *memDoctorRepo
	appts     *memAppointmentRepo
	outbox    *memOutboxRepo
	notifier  *captureNotifier
	encryptor security.Encryptor
	tenantID  uuid.UUID
	doctorID  uuid.UUID
	slotStart time.Time
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	kv := keyvalue.NewRedisStoreWithClient(client)
	l := logger.NewLogger(nil)

	tenantID := uuid.New()
	doctorID := uuid.New()
	doctors := &memDoctorRepo{
		doctors: []*model.Doctor{
			{ID: doctorID, TenantID: tenantID, Name: "Dr. Adams", Department: "cardiology"},
		},
		windows: map[uuid.UUID][]*model.AvailabilityWindow{
			doctorID: {{DoctorID: doctorID, DayOfWeek: 0, StartTime: "09:00", EndTime: "17:00"}},
		},
	}
	appts := &memAppointmentRepo{}
	outbox := &memOutboxRepo{}
	notifier := &captureNotifier{}

	locks := slotlock.NewStore(kv, 10*time.Minute, nil)
	drafts := NewDraftStore(kv, 10*time.Minute)
	codes := otp.NewService(kv, security.NewCodeHasher(), otp.Config{
		CodeLength:      6,
		CodeTTL:         5 * time.Minute,
		MaxAttempts:     3,
		RateLimitMax:    5,
		RateLimitWindow: time.Hour,
		Pepper:          "test-pepper",
	}, l, nil)

	date := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC) // a Sunday
	calculator := availability.NewService(doctors, appts, locks, l).
		WithClock(func() time.Time { return date })

	encryptor, err := security.NewAESEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	svc := NewService(
		locks,
		drafts,
		codes,
		calculator,
		appts,
		doctors,
		audit.NewService(outbox),
		notifier,
		encryptor,
		l,
		nil,
		Config{
			LockTTL:      10 * time.Minute,
			DraftTTL:     10 * time.Minute,
			CodeTTL:      5 * time.Minute,
			SlotDuration: 30 * time.Minute,
		},
	)

	return &engineFixture{
		svc:       svc,
		mr:        mr,
		locks:     locks,
		doctors:   doctors,
		appts:     appts,
		outbox:    outbox,
		notifier:  notifier,
		encryptor: encryptor,
		tenantID:  tenantID,
		doctorID:  doctorID,
		slotStart: date.Add(10 * time.Hour),
	}
}

func (f *engineFixture) initiate(t *testing.T, sessionID string) *model.ReservationDraft {
	t.Helper()
	draft, err := f.svc.InitiateBooking(context.Background(), InitiateInput{
		TenantID:        f.tenantID,
		DoctorID:        f.doctorID,
		SlotStart:       f.slotStart,
		ContactIdentity: "patient@example.com",
	}, sessionID)
	require.NoError(t, err)
	return draft
}

func (f *engineFixture) slotStarts(t *testing.T) []time.Time {
	t.Helper()
	slots, err := f.svc.GetAvailableSlots(context.Background(), SlotQuery{
		TenantID: f.tenantID,
		DoctorID: f.doctorID,
		Date:     f.slotStart,
		Duration: 30 * time.Minute,
	})
	require.NoError(t, err)
	starts := make([]time.Time, len(slots))
	for i, s := range slots {
		starts[i] = s.StartTime
	}
	return starts
}

func containsTime(ts []time.Time, target time.Time) bool {
	for _, t := range ts {
		if t.Equal(target) {
			return true
		}
	}
	return false
}

func TestFullReservationFlow(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	require.True(t, containsTime(f.slotStarts(t), f.slotStart))

	draft := f.initiate(t, "session-1")
	assert.Equal(t, model.BookingStateInitiated, draft.State)

	// The held slot disappears from availability for everyone.
	assert.False(t, containsTime(f.slotStarts(t), f.slotStart))

	draft, err := f.svc.RequestCode(ctx, draft.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStateAwaitingCode, draft.State)
	require.NotEmpty(t, f.notifier.lastCode)

	appointment, err := f.svc.ConfirmWithCode(ctx, draft.BookingID, f.notifier.lastCode)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, appointment.Status)
	assert.Equal(t, f.slotStart, appointment.StartTime)
	assert.Equal(t, f.slotStart.Add(30*time.Minute), appointment.EndTime)

	// Identity is stored encrypted, never in the clear.
	assert.NotEqual(t, "patient@example.com", appointment.PatientIdentity)
	plain, err := security.DecryptString(f.encryptor, appointment.PatientIdentity)
	require.NoError(t, err)
	assert.Equal(t, "patient@example.com", plain)

	// The durable record now hides the slot; the lock is gone.
	assert.False(t, containsTime(f.slotStarts(t), f.slotStart))
	locked, err := f.locks.IsLocked(ctx, slotlock.Key{
		TenantID: f.tenantID, DoctorID: f.doctorID, SlotStart: f.slotStart,
	})
	require.NoError(t, err)
	assert.False(t, locked)

	// The draft is gone too.
	_, err = f.svc.RequestCode(ctx, draft.BookingID)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	assert.Len(t, f.notifier.confirmed, 1)
	assert.Equal(t, []string{
		audit.EventBookingCreated,
		audit.EventCodeRequested,
		audit.EventCodeVerified,
		audit.EventBookingConfirmed,
	}, f.outbox.eventTypes())
}

func TestInitiateCarriesRequestedDuration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft, err := f.svc.InitiateBooking(ctx, InitiateInput{
		TenantID:        f.tenantID,
		DoctorID:        f.doctorID,
		SlotStart:       f.slotStart,
		DurationMinutes: 60,
		ContactIdentity: "patient@example.com",
	}, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 60, draft.DurationMinutes)

	_, err = f.svc.RequestCode(ctx, draft.BookingID)
	require.NoError(t, err)

	appointment, err := f.svc.ConfirmWithCode(ctx, draft.BookingID, f.notifier.lastCode)
	require.NoError(t, err)
	assert.Equal(t, f.slotStart.Add(60*time.Minute), appointment.EndTime)
}

func TestConcurrentInitiateSingleWinner(t *testing.T) {
	f := setupEngine(t)

	const callers = 10
	var winners int64
	var losers int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(n int) {
			defer wg.Done()
			_, err := f.svc.InitiateBooking(context.Background(), InitiateInput{
				TenantID:        f.tenantID,
				DoctorID:        f.doctorID,
				SlotStart:       f.slotStart,
				ContactIdentity: "patient@example.com",
			}, uuid.NewString())
			switch {
			case err == nil:
				atomic.AddInt64(&winners, 1)
			case errors.Is(err, ErrSlotUnavailable):
				atomic.AddInt64(&losers, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners)
	assert.Equal(t, int64(callers-1), losers)
}

func TestCancelFreesSlot(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft := f.initiate(t, "session-1")
	require.False(t, containsTime(f.slotStarts(t), f.slotStart))

	require.NoError(t, f.svc.CancelBooking(ctx, draft.BookingID, "session-1", "changed my mind"))

	// The slot is immediately bookable again.
	assert.True(t, containsTime(f.slotStarts(t), f.slotStart))

	_, err := f.svc.InitiateBooking(ctx, InitiateInput{
		TenantID:        f.tenantID,
		DoctorID:        f.doctorID,
		SlotStart:       f.slotStart,
		ContactIdentity: "other@example.com",
	}, "session-2")
	require.NoError(t, err)
}

func TestCancelRequiresOwningSession(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft := f.initiate(t, "session-1")

	err := f.svc.CancelBooking(ctx, draft.BookingID, "session-2", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// The draft survives a foreign cancellation attempt.
	_, err = f.svc.RequestCode(ctx, draft.BookingID)
	require.NoError(t, err)
}

func TestCancelUnknownBooking(t *testing.T) {
	f := setupEngine(t)

	err := f.svc.CancelBooking(context.Background(), uuid.New(), "session-1", "")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestConfirmRequiresAwaitingCode(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft := f.initiate(t, "session-1")

	_, err := f.svc.ConfirmWithCode(ctx, draft.BookingID, "123456")
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, model.BookingStateInitiated, stateErr.Current)
}

func TestConfirmWithWrongCode(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft := f.initiate(t, "session-1")
	_, err := f.svc.RequestCode(ctx, draft.BookingID)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == f.notifier.lastCode {
		wrong = "000001"
	}
	_, err = f.svc.ConfirmWithCode(ctx, draft.BookingID, wrong)
	var invalid *otp.InvalidCodeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.RemainingAttempts)

	// The right code still works afterwards.
	appointment, err := f.svc.ConfirmWithCode(ctx, draft.BookingID, f.notifier.lastCode)
	require.NoError(t, err)
	assert.NotNil(t, appointment)
}

func TestResendReplacesCode(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft := f.initiate(t, "session-1")
	_, err := f.svc.RequestCode(ctx, draft.BookingID)
	require.NoError(t, err)
	first := f.notifier.lastCode

	_, err = f.svc.RequestCode(ctx, draft.BookingID)
	require.NoError(t, err)
	second := f.notifier.lastCode

	if first != second {
		_, err = f.svc.ConfirmWithCode(ctx, draft.BookingID, first)
		var invalid *otp.InvalidCodeError
		require.ErrorAs(t, err, &invalid, "superseded code must not confirm")
	}

	appointment, err := f.svc.ConfirmWithCode(ctx, draft.BookingID, second)
	require.NoError(t, err)
	assert.NotNil(t, appointment)
}

func TestLockLossBeforeConfirm(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft := f.initiate(t, "session-1")
	_, err := f.svc.RequestCode(ctx, draft.BookingID)
	require.NoError(t, err)
	code := f.notifier.lastCode

	// Simulate the lock expiring and the slot being taken by another
	// session before the code arrives.
	key := slotlock.Key{TenantID: f.tenantID, DoctorID: f.doctorID, SlotStart: f.slotStart}
	released, err := f.locks.Release(ctx, key, "session-1")
	require.NoError(t, err)
	require.True(t, released)
	ok, err := f.locks.Acquire(ctx, key, "session-2")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.ConfirmWithCode(ctx, draft.BookingID, code)
	assert.ErrorIs(t, err, ErrSlotExpired)

	// No durable write happened, the interloper's lock is untouched.
	assert.Empty(t, f.appts.inserted)
	owned, err := f.locks.VerifyOwnership(ctx, key, "session-2")
	require.NoError(t, err)
	assert.True(t, owned)

	assert.Contains(t, f.outbox.eventTypes(), audit.EventLockExpiredBeforeConfirm)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft := f.initiate(t, "session-1")
	_, err := f.svc.RequestCode(ctx, draft.BookingID)
	require.NoError(t, err)

	f.appts.insertErr = errors.New("db down")

	_, err = f.svc.ConfirmWithCode(ctx, draft.BookingID, f.notifier.lastCode)
	var persistence *PersistenceError
	require.ErrorAs(t, err, &persistence)

	// The lock is released so the slot is not stranded.
	locked, err := f.locks.IsLocked(ctx, slotlock.Key{
		TenantID: f.tenantID, DoctorID: f.doctorID, SlotStart: f.slotStart,
	})
	require.NoError(t, err)
	assert.False(t, locked)

	assert.Contains(t, f.outbox.eventTypes(), audit.EventPersistenceRollback)
	assert.Empty(t, f.appts.inserted)
}

func TestDraftExpiryEndsFlow(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	draft := f.initiate(t, "session-1")

	f.mr.FastForward(11 * time.Minute)

	_, err := f.svc.RequestCode(ctx, draft.BookingID)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	_, err = f.svc.ConfirmWithCode(ctx, draft.BookingID, "123456")
	assert.ErrorIs(t, err, ErrBookingNotFound)

	err = f.svc.CancelBooking(ctx, draft.BookingID, "session-1", "")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestGetAvailableSlotsSorted(t *testing.T) {
	f := setupEngine(t)

	secondDoctor := uuid.New()
	f.doctors.doctors = append(f.doctors.doctors,
		&model.Doctor{ID: secondDoctor, TenantID: f.tenantID, Name: "Dr. Brown", Department: "cardiology"})
	f.doctors.windows[secondDoctor] = []*model.AvailabilityWindow{
		{DoctorID: secondDoctor, DayOfWeek: 0, StartTime: "09:00", EndTime: "12:00"},
	}

	slots, err := f.svc.GetAvailableSlots(context.Background(), SlotQuery{
		TenantID: f.tenantID,
		Date:     f.slotStart,
		Duration: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	for i := 1; i < len(slots); i++ {
		prev, cur := slots[i-1], slots[i]
		if prev.StartTime.Equal(cur.StartTime) {
			assert.LessOrEqual(t, prev.DoctorName, cur.DoctorName)
		} else {
			assert.True(t, prev.StartTime.Before(cur.StartTime))
		}
	}
}

func TestGetAvailableSlotsUnknownDoctor(t *testing.T) {
	f := setupEngine(t)

	slots, err := f.svc.GetAvailableSlots(context.Background(), SlotQuery{
		TenantID: f.tenantID,
		DoctorID: uuid.New(),
		Date:     f.slotStart,
	})
	require.NoError(t, err)
	assert.Empty(t, slots)
}
