package booking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"parking-booking-backend/config"
	"parking-booking-backend/internal/db"
	"parking-booking-backend/internal/ledger"
	"parking-booking-backend/internal/model"
	"parking-booking-backend/internal/notification"
	"parking-booking-backend/internal/session"
	"parking-booking-backend/internal/store"
)

var (
	renterActor   = Actor{ID: "driver-1", Role: RoleUser}
	providerActor = Actor{ID: "owner-1", Role: RoleProvider}
	adminActor    = Actor{ID: "root", Role: RoleAdmin}
	strangerActor = Actor{ID: "owner-2", Role: RoleProvider}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type armedTimer struct {
	at time.Time
	fn func()
}

// fakeTimers records timers instead of running them.
type fakeTimers struct {
	mu        sync.Mutex
	armed     map[string]map[session.Kind]armedTimer
	cancelled []string
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{armed: make(map[string]map[session.Kind]armedTimer)}
}

func (f *fakeTimers) Arm(bookingID string, kind session.Kind, at time.Time, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed[bookingID] == nil {
		f.armed[bookingID] = make(map[session.Kind]armedTimer)
	}
	f.armed[bookingID][kind] = armedTimer{at: at, fn: fn}
}

func (f *fakeTimers) Cancel(bookingID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, bookingID)
	f.cancelled = append(f.cancelled, bookingID)
}

func (f *fakeTimers) get(bookingID string, kind session.Kind) (armedTimer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.armed[bookingID][kind]
	return t, ok
}

type publishedEvent struct {
	event   string
	payload any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (r *recordingBroadcaster) Publish(_ context.Context, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{event, payload})
	return r.err
}

func (r *recordingBroadcaster) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (r *recordingNotifier) Dispatch(n notification.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) titlesFor(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notices {
		if n.UserID == userID {
			out = append(out, n.Title)
		}
	}
	return out
}

type fixture struct {
	t       *testing.T
	db      *gorm.DB
	store   store.Store
	svc     *Service
	clock   *fakeClock
	timers  *fakeTimers
	events  *recordingBroadcaster
	notices *recordingNotifier
	space   model.ParkingSpace
	// T is the booked start used by most tests.
	T time.Time
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

func newFixture(t *testing.T, spots int, tune ...func(*config.BookingConfig)) *fixture {
	t.Helper()
	gormDB := newTestDB(t)

	cfg := config.Default().Booking
	for _, fn := range tune {
		fn(&cfg)
	}

	T := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		t:       t,
		db:      gormDB,
		store:   store.NewGormStore(gormDB),
		clock:   &fakeClock{now: T.Add(-6 * time.Hour)},
		timers:  newFakeTimers(),
		events:  &recordingBroadcaster{},
		notices: &recordingNotifier{},
		T:       T,
	}
	f.space = model.ParkingSpace{OwnerID: providerActor.ID, Name: "Lot A", PricePerHour: 100, TotalSpots: spots, AvailableSpots: spots}
	require.NoError(t, gormDB.Create(&f.space).Error)

	l := ledger.New(f.events, zap.NewNop())
	f.svc = NewService(cfg, f.store, l, f.timers, f.events, f.notices, zap.NewNop(), WithClock(f.clock.Now))
	return f
}

func (f *fixture) create(start, end time.Time) *View {
	f.t.Helper()
	v, err := f.svc.Create(context.Background(), renterActor, CreateInput{ParkingSpaceID: f.space.ID, Start: start, End: end})
	require.NoError(f.t, err)
	return v
}

func (f *fixture) booking(id string) *model.Booking {
	f.t.Helper()
	b, err := f.store.GetBooking(context.Background(), id)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) available() int {
	f.t.Helper()
	var sp model.ParkingSpace
	require.NoError(f.t, f.db.First(&sp, f.space.ID).Error)
	return sp.AvailableSpots
}

// paidBooking creates a booking for [T, T+2h) and confirms its payment.
func (f *fixture) paidBooking() *View {
	f.t.Helper()
	v := f.create(f.T, f.T.Add(2*time.Hour))
	_, err := f.svc.ConfirmPayment(context.Background(), PaymentSignal{BookingID: v.ID, Verified: true})
	require.NoError(f.t, err)
	return v
}

// checkedIn returns an active booking checked in at T-10min.
func (f *fixture) checkedIn() *View {
	f.t.Helper()
	v := f.paidBooking()
	f.clock.Set(f.T.Add(-10 * time.Minute))
	issued, err := f.svc.IssueOTP(context.Background(), v.ID, "checkin", renterActor)
	require.NoError(f.t, err)
	out, err := f.svc.CheckIn(context.Background(), v.ID, providerActor, issued.Code)
	require.NoError(f.t, err)
	return out
}
