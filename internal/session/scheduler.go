// Package session schedules the time-driven side of the booking lifecycle:
// per-booking one-shot timers and the periodic sweep that reconciles any
// session whose timer was lost.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind distinguishes the timers a single booking may hold.
type Kind string

const (
	KindExpiry   Kind = "expiry"
	KindReminder Kind = "reminder"
)

type timerKey struct {
	bookingID string
	kind      Kind
}

// Scheduler owns the pending in-memory timers. Timers are advisory; the
// Sweeper reaches the same state if they are lost.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[timerKey]*time.Timer
	stopped bool
	now     func() time.Time
	log     *zap.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(now func() time.Time, log *zap.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[timerKey]*time.Timer),
		now:    now,
		log:    log.Named("scheduler"),
	}
}

// Arm schedules fn to run at the given time, replacing any timer of the same
// kind for the booking. A time in the past fires immediately.
func (s *Scheduler) Arm(bookingID string, kind Kind, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	key := timerKey{bookingID: bookingID, kind: kind}
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[key] == t {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
	s.log.Debug("timer armed", zap.String("booking_id", bookingID), zap.String("kind", string(kind)), zap.Duration("in", delay))
}

// Cancel stops every pending timer of the booking. Cancelling a booking
// with nothing armed is a no-op.
func (s *Scheduler) Cancel(bookingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range []Kind{KindExpiry, KindReminder} {
		key := timerKey{bookingID: bookingID, kind: kind}
		if t, ok := s.timers[key]; ok {
			t.Stop()
			delete(s.timers, key)
		}
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Armed reports whether a timer of the given kind is pending for the booking.
func (s *Scheduler) Armed(bookingID string, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[timerKey{bookingID: bookingID, kind: kind}]
	return ok
}

// Stop cancels all timers and rejects further arming.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
