// Package booking implements the booking lifecycle: creation, payment,
// OTP-gated check-in and check-out, cancellation, extension, overrides and
// the time-driven overdue transition. Every status write is a guarded
// compare-and-set, so timers, sweeps and manual calls can race safely.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parking-booking-backend/config"
	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/broadcast"
	"parking-booking-backend/internal/ledger"
	"parking-booking-backend/internal/model"
	"parking-booking-backend/internal/notification"
	"parking-booking-backend/internal/parse"
	"parking-booking-backend/internal/refund"
	"parking-booking-backend/internal/session"
	"parking-booking-backend/internal/store"
)

// Timers schedules per-booking deferred work.
type Timers interface {
	Arm(bookingID string, kind session.Kind, at time.Time, fn func())
	Cancel(bookingID string)
}

// Notifier delivers fire-and-forget notices.
type Notifier interface {
	Dispatch(n notification.Notice)
}

// ErrStale is returned when a booking changed between read and write.
var ErrStale = apperr.Conflict("booking was modified concurrently, retry")

const timerTimeout = 10 * time.Second

// Service is the booking state machine bound to its collaborators.
type Service struct {
	cfg      config.BookingConfig
	store    store.Store
	ledger   *ledger.Ledger
	timers   Timers
	events   broadcast.Broadcaster
	notifier Notifier
	machine  Machine
	now      func() time.Time
	log      *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the booking core.
func NewService(cfg config.BookingConfig, st store.Store, l *ledger.Ledger, timers Timers,
	events broadcast.Broadcaster, notifier Notifier, log *zap.Logger, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		cfg:      cfg,
		store:    st,
		ledger:   l,
		timers:   timers,
		events:   events,
		notifier: notifier,
		machine:  Machine{Legacy: cfg.LegacyCheckInCompletes},
		now:      time.Now,
		log:      log.Named("booking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// CreateInput is a booking request.
type CreateInput struct {
	ParkingSpaceID int64
	Start          time.Time
	End            time.Time
}

// Create books a window at a space. The booking is accepted immediately
// unless provider acceptance is required.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*View, error) {
	if actor.ID == "" {
		return nil, apperr.Unauthorized("missing user")
	}
	if in.ParkingSpaceID <= 0 {
		return nil, apperr.Validation("parkingSpaceId is required")
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return nil, apperr.Validation("startTime and endTime are required")
	}
	start, end := in.Start.UTC(), in.End.UTC()
	if !end.After(start) {
		return nil, apperr.Validation("end time must be after start time")
	}
	now := s.clock()
	if !end.After(now) {
		return nil, apperr.Validation("booking window has already ended")
	}

	space, err := s.store.GetSpace(ctx, in.ParkingSpaceID)
	if err != nil {
		return nil, err
	}
	overlap, err := s.store.HasBookedOverlap(ctx, space.ID, start, end)
	if err != nil {
		return nil, err
	}
	if overlap {
		return nil, apperr.Conflict("requested window overlaps an existing booking")
	}

	status := model.StatusAccepted
	if s.cfg.RequireProviderAccept {
		status = model.StatusPending
	}
	b := &model.Booking{
		ID:             uuid.NewString(),
		UserID:         actor.ID,
		ParkingSpaceID: space.ID,
		ProviderID:     space.OwnerID,
		PricePerHour:   space.PricePerHour,
		TotalPrice:     space.PricePerHour * refund.BillableHours(end.Sub(start)),
		StartTime:      start,
		EndTime:        end,
		Status:         status,
		PaymentStatus:  model.PaymentPending,
	}
	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	s.log.Info("booking created", zap.String("booking_id", b.ID), zap.Int64("space_id", space.ID),
		zap.String("status", string(status)))

	s.markSlot(ctx, b)
	s.publish(ctx, broadcast.EventBookingUpdated, b)
	s.notify(b.ProviderID, b.ID, "New booking", "A new booking was made for "+spaceLabel(space)+".")

	v := NewView(b, actor.ID)
	return &v, nil
}

// Get returns the booking as seen by actor.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (*View, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	space, err := s.spaceFor(ctx, b)
	if err != nil {
		return nil, err
	}
	if !CanView(b, space, actor) {
		return nil, apperr.Unauthorized("not allowed to view this booking")
	}
	v := NewView(b, actor.ID)
	return &v, nil
}

// unpaid lists the payment statuses a payment signal may overwrite.
var unpaid = []model.PaymentStatus{model.PaymentPending, model.PaymentFailed}

// PaymentSignal is the payment collaborator's verdict for a booking.
type PaymentSignal struct {
	BookingID string
	Verified  bool
}

// ConfirmPayment records a payment outcome. Confirming an already paid
// booking succeeds without change.
func (s *Service) ConfirmPayment(ctx context.Context, sig PaymentSignal) (*View, error) {
	b, err := s.store.GetBooking(ctx, sig.BookingID)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus == model.PaymentPaid {
		v := NewView(b, "")
		return &v, nil
	}
	if _, err := s.machine.Next(b.Status, EventPayment); err != nil {
		return nil, err
	}

	target := model.PaymentPaid
	if !sig.Verified {
		target = model.PaymentFailed
	}
	moved, err := s.store.UpdateBookingIfPayment(ctx, b.ID, []model.BookingStatus{b.Status}, unpaid,
		map[string]any{"payment_status": target})
	if err != nil {
		return nil, err
	}
	if !moved {
		// A concurrent signal may have paid it first; that outcome stands.
		cur, err := s.store.GetBooking(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if cur.PaymentStatus == model.PaymentPaid {
			v := NewView(cur, "")
			return &v, nil
		}
		return nil, ErrStale
	}
	s.log.Info("payment recorded", zap.String("booking_id", b.ID), zap.String("payment_status", string(target)))

	b, err = s.store.GetBooking(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, broadcast.EventBookingUpdated, b)
	if target == model.PaymentPaid {
		s.notify(b.ProviderID, b.ID, "Booking paid", "A booking for your space has been paid.")
	}
	v := NewView(b, "")
	return &v, nil
}

// Extend adds hours to the booked window. An active session is extended too.
func (s *Service) Extend(ctx context.Context, id string, actor Actor, hours float64) (*View, error) {
	if hours <= 0 {
		return nil, apperr.Validation("hours must be greater than zero")
	}
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.Transition(b, nil, EventExtend, actor); err != nil {
		return nil, err
	}

	delta := time.Duration(hours * float64(time.Hour))
	newEnd := b.EndTime.Add(delta)
	fields := map[string]any{
		"end_time":    newEnd,
		"total_price": b.TotalPrice + b.PricePerHour*hours,
	}
	var sessionEnd *time.Time
	if b.Status == model.StatusActive && b.SessionEndAt != nil {
		t := b.SessionEndAt.Add(delta).UTC()
		sessionEnd = &t
		fields["session_end_at"] = t
	}

	moved, err := s.store.UpdateBookingIf(ctx, b.ID, []model.BookingStatus{b.Status}, fields)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrStale
	}
	s.log.Info("booking extended", zap.String("booking_id", b.ID), zap.Float64("hours", hours))

	s.unmarkSlot(ctx, b)
	extended := *b
	extended.EndTime = newEnd
	s.markSlot(ctx, &extended)

	if sessionEnd != nil {
		s.armSessionTimers(b.ID, *sessionEnd, s.clock())
	}
	return s.reloadAndPublish(ctx, b.ID, broadcast.EventBookingUpdated, actor.ID)
}

// RefundQuote previews the refund the renter would get by cancelling now.
func (s *Service) RefundQuote(ctx context.Context, id string, actor Actor, requested *float64) (*refund.Quote, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.Transition(b, nil, EventCancel, actor); err != nil {
		return nil, err
	}
	q, err := refund.Calculate(refundInput(b, requested), s.clock(), float64(s.cfg.MinCancelHours))
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Cancel cancels the booking on behalf of its renter and records the refund.
func (s *Service) Cancel(ctx context.Context, id string, actor Actor, requested *float64) (*View, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	to, err := s.machine.Transition(b, nil, EventCancel, actor)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	q, err := refund.Calculate(refundInput(b, requested), now, float64(s.cfg.MinCancelHours))
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"status":                      to,
		"cancelled_at":                now,
		"cancellation_cancelled_by":   actor.ID,
		"cancellation_refund_percent": q.Percent,
		"cancellation_refund_amount":  q.Amount,
		"check_in_otp_code":           "",
		"check_in_otp_expires_at":     nil,
	}
	if b.PaymentStatus == model.PaymentPaid && q.Amount > 0 {
		fields["payment_status"] = model.PaymentRefunded
	}
	moved, err := s.store.UpdateBookingIfPayment(ctx, b.ID, []model.BookingStatus{b.Status},
		[]model.PaymentStatus{b.PaymentStatus}, fields)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrStale
	}
	s.log.Info("booking cancelled", zap.String("booking_id", b.ID), zap.String("from", string(b.Status)),
		zap.Float64("refund_percent", q.Percent), zap.Float64("refund_amount", q.Amount))

	s.timers.Cancel(b.ID)
	s.unmarkSlot(ctx, b)
	s.notify(b.ProviderID, b.ID, "Booking cancelled", "A booking for your space was cancelled.")
	return s.reloadAndPublish(ctx, b.ID, broadcast.EventBookingUpdated, actor.ID)
}

func refundInput(b *model.Booking, requested *float64) refund.Input {
	return refund.Input{
		Start:        b.StartTime,
		End:          b.EndTime,
		PricePerHour: b.PricePerHour,
		TotalPrice:   b.TotalPrice,
		Requested:    requested,
	}
}

// spaceFor loads the booking's space. A missing space is not an error.
func (s *Service) spaceFor(ctx context.Context, b *model.Booking) (*model.ParkingSpace, error) {
	space, err := s.store.GetSpace(ctx, b.ParkingSpaceID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			s.log.Warn("parking space of booking is gone", zap.String("booking_id", b.ID), zap.Int64("space_id", b.ParkingSpaceID))
			return nil, nil
		}
		return nil, err
	}
	return space, nil
}

func (s *Service) reloadAndPublish(ctx context.Context, id, event, viewerID string) (*View, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event, b)
	v := NewView(b, viewerID)
	return &v, nil
}

func (s *Service) publish(ctx context.Context, event string, b *model.Booking) {
	if err := s.events.Publish(ctx, event, NewView(b, "")); err != nil {
		s.log.Warn("failed to broadcast booking event", zap.String("event", event), zap.String("booking_id", b.ID), zap.Error(err))
	}
}

func (s *Service) notify(userID, bookingID, title, body string) {
	if userID == "" {
		return
	}
	s.notifier.Dispatch(notification.Notice{UserID: userID, BookingID: bookingID, Title: title, Body: body})
}

func (s *Service) markSlot(ctx context.Context, b *model.Booking) {
	key := parse.SlotOf(b.StartTime, b.EndTime, s.cfg.Location)
	err := s.store.MarkSlot(ctx, model.AvailabilitySlot{
		ParkingSpaceID: b.ParkingSpaceID,
		Date:           key.Date,
		StartTime:      key.StartTime,
		EndTime:        key.EndTime,
		StartsAt:       b.StartTime,
		EndsAt:         b.EndTime,
		BookingID:      b.ID,
	})
	if err != nil {
		s.log.Warn("failed to mark availability slot", zap.String("booking_id", b.ID), zap.Int64("space_id", b.ParkingSpaceID), zap.Error(err))
	}
}

func (s *Service) unmarkSlot(ctx context.Context, b *model.Booking) {
	key := parse.SlotOf(b.StartTime, b.EndTime, s.cfg.Location)
	if err := s.store.UnmarkSlot(ctx, b.ParkingSpaceID, key.Date, key.StartTime, key.EndTime); err != nil {
		s.log.Warn("failed to unmark availability slot", zap.String("booking_id", b.ID), zap.Int64("space_id", b.ParkingSpaceID), zap.Error(err))
	}
}

func spaceLabel(space *model.ParkingSpace) string {
	if space.Name != "" {
		return space.Name
	}
	return "your parking space"
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
