package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parking-booking-backend/config"
	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/ledger"
	"parking-booking-backend/internal/model"
	"parking-booking-backend/internal/otp"
	"parking-booking-backend/internal/store"
)

// snapshotStore serves one outdated read of a booking, as a request that
// loaded it just before a concurrent write would see it.
type snapshotStore struct {
	store.Store
	mu       sync.Mutex
	snapshot *model.Booking
}

func (s *snapshotStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	snap := s.snapshot
	s.snapshot = nil
	s.mu.Unlock()
	if snap != nil && snap.ID == id {
		return snap, nil
	}
	return s.Store.GetBooking(ctx, id)
}

// withSnapshot returns a service over the fixture's database whose first
// booking read returns snap.
func (f *fixture) withSnapshot(snap *model.Booking) *Service {
	st := &snapshotStore{Store: f.store, snapshot: snap}
	return NewService(config.Default().Booking, st, ledger.New(f.events, zap.NewNop()), f.timers, f.events,
		f.notices, zap.NewNop(), WithClock(f.clock.Now))
}

func TestService_LateFailedPaymentKeepsPaid(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	v := f.create(f.T, f.T.Add(2*time.Hour))
	before := f.booking(v.ID)

	_, err := f.svc.ConfirmPayment(ctx, PaymentSignal{BookingID: v.ID, Verified: true})
	require.NoError(t, err)

	got, err := f.withSnapshot(before).ConfirmPayment(ctx, PaymentSignal{BookingID: v.ID, Verified: false})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, model.PaymentPaid, f.booking(v.ID).PaymentStatus)
}

func TestService_CancelRacingPaymentIsStale(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	v := f.create(f.T, f.T.Add(2*time.Hour))
	before := f.booking(v.ID)

	_, err := f.svc.ConfirmPayment(ctx, PaymentSignal{BookingID: v.ID, Verified: true})
	require.NoError(t, err)

	_, err = f.withSnapshot(before).Cancel(ctx, v.ID, renterActor, nil)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	b := f.booking(v.ID)
	assert.Equal(t, model.StatusAccepted, b.Status)
	assert.Equal(t, model.PaymentPaid, b.PaymentStatus)

	// A retry sees the payment and refunds it.
	got, err := f.svc.Cancel(ctx, v.ID, renterActor, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, model.PaymentRefunded, got.PaymentStatus)
}

func TestService_OverrideClearsPendingCodes(t *testing.T) {
	ctx := context.Background()
	for _, target := range []model.BookingStatus{model.StatusCompleted, model.StatusCancelled} {
		t.Run(string(target), func(t *testing.T) {
			f := newFixture(t, 1)
			v := f.checkedIn()
			f.clock.Set(f.T.Add(time.Hour))
			_, err := f.svc.IssueOTP(ctx, v.ID, otp.SlotCheckOut, renterActor)
			require.NoError(t, err)

			got, err := f.svc.Override(ctx, v.ID, providerActor, target)
			require.NoError(t, err)
			assert.Equal(t, target, got.Status)
			assert.Nil(t, got.CheckOutOTP)

			b := f.booking(v.ID)
			assert.False(t, b.CheckOutOTP.Pending())
			assert.False(t, b.CheckInOTP.Pending())
			assert.Nil(t, b.CheckOutOTP.ExpiresAt)
		})
	}
}

func TestService_EarlyCheckOutFreesWindow(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	v := f.checkedIn()

	f.clock.Set(f.T.Add(time.Hour))
	issued, err := f.svc.IssueOTP(ctx, v.ID, otp.SlotCheckOut, renterActor)
	require.NoError(t, err)
	_, err = f.svc.CheckOut(ctx, v.ID, providerActor, issued.Code)
	require.NoError(t, err)

	var slot model.AvailabilitySlot
	require.NoError(t, f.db.Where("parking_space_id = ? AND date = ? AND start_time = ?", f.space.ID, "2026-05-01", "10:00").First(&slot).Error)
	assert.False(t, slot.IsBooked)

	// The rest of the original window can be booked again.
	next := f.create(f.T.Add(90*time.Minute), f.T.Add(2*time.Hour))
	assert.Equal(t, model.StatusAccepted, next.Status)
}

func TestService_ForcedCompletionFreesWindow(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	v := f.checkedIn()

	_, err := f.svc.Override(ctx, v.ID, adminActor, model.StatusCompleted)
	require.NoError(t, err)

	next := f.create(f.T.Add(time.Hour), f.T.Add(2*time.Hour))
	assert.Equal(t, model.StatusAccepted, next.Status)
}
