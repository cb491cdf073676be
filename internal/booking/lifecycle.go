package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/broadcast"
	"parking-booking-backend/internal/ledger"
	"parking-booking-backend/internal/model"
	"parking-booking-backend/internal/otp"
	"parking-booking-backend/internal/session"
	"parking-booking-backend/internal/store"
)

// IssuedOTP is returned to the renter, who hands the code to the provider.
type IssuedOTP struct {
	Slot      otp.Slot  `json:"slot"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueOTP stores a fresh code in the slot, replacing any pending one. The
// opposite slot is cleared so only one code is ever pending.
func (s *Service) IssueOTP(ctx context.Context, id string, slot otp.Slot, actor Actor) (*IssuedOTP, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	ev := EventIssueCheckIn
	if slot == otp.SlotCheckOut {
		ev = EventIssueCheckOut
	}
	if _, err := s.machine.Transition(b, nil, ev, actor); err != nil {
		return nil, err
	}

	issued, err := otp.Issue(s.clock(), s.cfg.OTPTTL())
	if err != nil {
		return nil, apperr.Internal(err, "failed to issue otp")
	}
	fields := slot.IssuedFields(issued)
	for k, v := range slot.Other().ClearedFields() {
		fields[k] = v
	}
	moved, err := s.store.UpdateBookingIf(ctx, b.ID, []model.BookingStatus{b.Status}, fields)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrStale
	}
	s.log.Info("otp issued", zap.String("booking_id", b.ID), zap.String("slot", string(slot)))
	return &IssuedOTP{Slot: slot, Code: issued.Code, ExpiresAt: *issued.ExpiresAt}, nil
}

// CheckIn verifies the check-in code on behalf of the provider, starts the
// session and consumes one spot. If no spot is left nothing changes.
func (s *Service) CheckIn(ctx context.Context, id string, actor Actor, code string) (*View, error) {
	now := s.clock()
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	space, err := s.spaceFor(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Authorize(EventCheckIn, b, space, actor); err != nil {
		return nil, err
	}
	if !b.CheckInOTP.Pending() {
		return nil, otp.ErrMissing
	}

	if b.Status == model.StatusActive && s.machine.Legacy {
		if _, err := s.machine.Next(b.Status, EventLegacyComplete); err != nil {
			return nil, err
		}
		if err := otp.Check(b.CheckInOTP, code, now); err != nil {
			return nil, err
		}
		return s.complete(ctx, b, otp.SlotCheckIn, actor, now)
	}

	to, err := s.machine.Next(b.Status, EventCheckIn)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus != model.PaymentPaid {
		return nil, apperr.Conflict("booking is not paid")
	}
	if opens := b.StartTime.Add(-s.cfg.CheckInLead()); now.Before(opens) {
		return nil, apperr.Conflict("check-in opens at %s", opens.Format(time.RFC3339))
	}
	if err := otp.Check(b.CheckInOTP, code, now); err != nil {
		return nil, err
	}

	sessionEnd := s.sessionEnd(b, now)
	fields := otp.SlotCheckIn.ConsumedFields()
	fields["status"] = to
	fields["started_at"] = now
	fields["session_end_at"] = sessionEnd

	updated, err := s.transitionTx(ctx, b, fields, false, true)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking checked in", zap.String("booking_id", b.ID), zap.String("from", string(b.Status)), zap.String("to", string(to)))

	s.ledger.Announce(ctx, broadcast.EventParkingUpdated, updated)
	v, err := s.reloadAndPublish(ctx, b.ID, broadcast.EventBookingUpdated, actor.ID)
	if err != nil {
		return nil, err
	}
	s.armSessionTimers(b.ID, sessionEnd, now)
	return v, nil
}

// CheckOut verifies the checkout code on behalf of the provider, completes
// the booking and returns its spot.
func (s *Service) CheckOut(ctx context.Context, id string, actor Actor, code string) (*View, error) {
	now := s.clock()
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	space, err := s.spaceFor(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Authorize(EventCheckOut, b, space, actor); err != nil {
		return nil, err
	}
	if !b.CheckOutOTP.Pending() {
		return nil, otp.ErrMissing
	}
	if _, err := s.machine.Next(b.Status, EventCheckOut); err != nil {
		return nil, err
	}
	if err := otp.Check(b.CheckOutOTP, code, now); err != nil {
		return nil, err
	}
	return s.complete(ctx, b, otp.SlotCheckOut, actor, now)
}

// complete moves an occupying booking to completed and releases its spot
// and its availability slot.
func (s *Service) complete(ctx context.Context, b *model.Booking, slot otp.Slot, actor Actor, now time.Time) (*View, error) {
	fields := slot.ConsumedFields()
	fields["status"] = model.StatusCompleted
	fields["completed_at"] = now
	if b.EndedAt == nil {
		fields["ended_at"] = endedAt(b, now)
	}

	released, err := s.transitionTx(ctx, b, fields, true, false)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking completed", zap.String("booking_id", b.ID), zap.String("from", string(b.Status)), zap.String("slot", string(slot)))

	s.timers.Cancel(b.ID)
	s.unmarkSlot(ctx, b)
	s.ledger.Announce(ctx, broadcast.EventParkingReleased, released)
	s.notify(b.UserID, b.ID, "Booking completed", "Thanks for parking with us.")
	return s.reloadAndPublish(ctx, b.ID, broadcast.EventBookingCompleted, actor.ID)
}

// transitionTx writes fields under a status guard and applies the ledger
// change in the same transaction. It returns the space after the change.
func (s *Service) transitionTx(ctx context.Context, b *model.Booking, fields map[string]any, release, consume bool) (*model.ParkingSpace, error) {
	var space *model.ParkingSpace
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		moved, err := tx.UpdateBookingIf(ctx, b.ID, []model.BookingStatus{b.Status}, fields)
		if err != nil {
			return err
		}
		if !moved {
			return ErrStale
		}

		var sp *model.ParkingSpace
		switch {
		case consume:
			sp, err = s.ledger.DecrementIfAvailable(ctx, tx.DB(), b.ParkingSpaceID)
			if errors.Is(err, ledger.ErrNoCapacity) {
				return err
			}
		case release:
			sp, _, err = s.ledger.Release(ctx, tx.DB(), b.ParkingSpaceID)
		default:
			return nil
		}
		if isNotFound(err) {
			s.log.Warn("capacity not tracked for missing space", zap.String("booking_id", b.ID), zap.Int64("space_id", b.ParkingSpaceID))
			return nil
		}
		if err != nil {
			return err
		}
		space = sp
		return nil
	})
	return space, err
}

// Override moves a booking to target on behalf of a provider or admin.
// Capacity follows the move: entering active consumes a spot, leaving an
// occupying status for completed or cancelled returns it.
func (s *Service) Override(ctx context.Context, id string, actor Actor, target model.BookingStatus) (*View, error) {
	ev, err := OverrideEvent(target)
	if err != nil {
		return nil, err
	}
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	space, err := s.spaceFor(ctx, b)
	if err != nil {
		return nil, err
	}
	to, err := s.machine.Transition(b, space, ev, actor)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	fields := map[string]any{"status": to}
	occupying := b.Status == model.StatusActive || b.Status == model.StatusOverdue
	var consume, release bool
	var sessionEnd time.Time
	switch to {
	case model.StatusActive:
		consume = true
		sessionEnd = s.sessionEnd(b, now)
		fields["started_at"] = now
		fields["session_end_at"] = sessionEnd
		for k, v := range otp.SlotCheckIn.ClearedFields() {
			fields[k] = v
		}
	case model.StatusCompleted:
		release = occupying
		fields["completed_at"] = now
		if b.EndedAt == nil {
			fields["ended_at"] = endedAt(b, now)
		}
	case model.StatusCancelled:
		release = occupying
		fields["cancelled_at"] = now
		fields["cancellation_cancelled_by"] = actor.ID
	}
	if to.Terminal() {
		for _, slot := range []otp.Slot{otp.SlotCheckIn, otp.SlotCheckOut} {
			for k, v := range slot.ClearedFields() {
				fields[k] = v
			}
		}
	}

	changed, err := s.transitionTx(ctx, b, fields, release, consume)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking status overridden", zap.String("booking_id", b.ID), zap.String("actor", actor.ID),
		zap.String("from", string(b.Status)), zap.String("to", string(to)))

	event := broadcast.EventBookingUpdated
	switch to {
	case model.StatusActive:
		s.ledger.Announce(ctx, broadcast.EventParkingUpdated, changed)
		s.armSessionTimers(b.ID, sessionEnd, now)
	case model.StatusOverdue:
		event = broadcast.EventBookingOverdue
		s.timers.Cancel(b.ID)
	case model.StatusCompleted, model.StatusCancelled, model.StatusRejected:
		if to == model.StatusCompleted {
			event = broadcast.EventBookingCompleted
		}
		s.timers.Cancel(b.ID)
		s.ledger.Announce(ctx, broadcast.EventParkingReleased, changed)
		s.unmarkSlot(ctx, b)
	}
	s.notify(b.UserID, b.ID, "Booking "+string(to), fmt.Sprintf("Your booking is now %s.", to))
	return s.reloadAndPublish(ctx, b.ID, event, actor.ID)
}

// Expire flips a lapsed session to overdue. A booking that is no longer
// confirmed or active, or whose session end moved, is left alone.
// Capacity stays consumed until checkout.
func (s *Service) Expire(ctx context.Context, id string, now time.Time) (bool, error) {
	moved, err := s.store.ExpireSession(ctx, id, now.UTC())
	if err != nil || !moved {
		return false, err
	}
	s.timers.Cancel(id)

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return true, err
	}
	s.log.Info("booking overdue", zap.String("booking_id", id), zap.Timep("session_end_at", b.SessionEndAt))
	s.publish(ctx, broadcast.EventBookingOverdue, b)
	s.notify(b.UserID, b.ID, "Booking overdue", "Your parking session has ended. Please check out with the provider.")
	s.notify(b.ProviderID, b.ID, "Booking overdue", "A parking session at your space has ended without checkout.")
	return true, nil
}

// SweepOverdue expires every lapsed session. It is the durable backstop
// for lost timers.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	lapsed, err := s.store.FindLapsedSessions(ctx, now.UTC(), 0)
	if err != nil {
		return 0, err
	}
	var errs []error
	moved := 0
	for _, b := range lapsed {
		ok, err := s.Expire(ctx, b.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("booking %s: %w", b.ID, err))
		}
		if ok {
			moved++
		}
	}
	return moved, errors.Join(errs...)
}

// RestoreTimers re-arms timers for active sessions after a restart.
// Sessions that already lapsed are left to the sweep.
func (s *Service) RestoreTimers(ctx context.Context) (int, error) {
	sessions, err := s.store.FindOpenSessions(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock()
	armed := 0
	for _, b := range sessions {
		if b.SessionEndAt == nil || !b.SessionEndAt.After(now) {
			continue
		}
		s.armSessionTimers(b.ID, *b.SessionEndAt, now)
		armed++
	}
	s.log.Info("session timers restored", zap.Int("armed", armed), zap.Int("open", len(sessions)))
	return armed, nil
}

// armSessionTimers schedules the expiry and the optional reminder. A session
// that already ended is expired right away.
func (s *Service) armSessionTimers(id string, sessionEnd, now time.Time) {
	if !sessionEnd.After(now) {
		ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
		defer cancel()
		if _, err := s.Expire(ctx, id, now); err != nil {
			s.log.Warn("failed to expire lapsed session", zap.String("booking_id", id), zap.Error(err))
		}
		return
	}

	s.timers.Arm(id, session.KindExpiry, sessionEnd, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
		defer cancel()
		if _, err := s.Expire(ctx, id, s.clock()); err != nil {
			s.log.Warn("session timer failed", zap.String("booking_id", id), zap.Error(err))
		}
	})

	lead := s.cfg.Reminder()
	if lead <= 0 {
		return
	}
	remindAt := sessionEnd.Add(-lead)
	if !remindAt.After(now) {
		return
	}
	s.timers.Arm(id, session.KindReminder, remindAt, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
		defer cancel()
		s.remind(ctx, id)
	})
}

func (s *Service) remind(ctx context.Context, id string) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		s.log.Warn("reminder lookup failed", zap.String("booking_id", id), zap.Error(err))
		return
	}
	if b.Status != model.StatusActive {
		return
	}
	s.notify(b.UserID, b.ID, "Session ending soon",
		fmt.Sprintf("Your parking session ends in %d minutes.", s.cfg.ReminderMinutes))
}

// sessionEnd is the end of a session starting now. A session never starts
// before the booked start, so an early arrival keeps the full window.
func (s *Service) sessionEnd(b *model.Booking, now time.Time) time.Time {
	length := b.BookedDuration()
	if length <= 0 {
		length = s.cfg.DefaultSession()
	}
	from := now
	if b.StartTime.After(now) {
		from = b.StartTime
	}
	return from.Add(length).UTC()
}

func endedAt(b *model.Booking, now time.Time) time.Time {
	if b.SessionEndAt != nil && b.SessionEndAt.Before(now) {
		return b.SessionEndAt.UTC()
	}
	return now
}
