package booking

import (
	"slices"

	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/model"
)

// Role is the kind of caller as asserted by the auth layer.
type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Actor is the caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

// Event is a trigger of the state machine.
type Event string

const (
	EventPayment        Event = "payment"
	EventIssueCheckIn   Event = "issue-check-in-otp"
	EventIssueCheckOut  Event = "issue-check-out-otp"
	EventCheckIn        Event = "check-in"
	EventCheckOut       Event = "check-out"
	EventLegacyComplete Event = "legacy-complete"
	EventSessionEnd     Event = "session-end"
	EventCancel         Event = "cancel"
	EventExtend         Event = "extend"

	EventAccept        Event = "accept"
	EventReject        Event = "reject"
	EventConfirm       Event = "confirm"
	EventForceActive   Event = "force-active"
	EventForceOverdue  Event = "force-overdue"
	EventForceComplete Event = "force-complete"
	EventForceCancel   Event = "force-cancel"
)

type permission int

const (
	anyone permission = iota
	renter
	renterOrAdmin
	provider
	providerOrAdmin
)

// transition is one row of the table. An empty to leaves the status unchanged.
type transition struct {
	from []model.BookingStatus
	to   model.BookingStatus
	who  permission
}

var (
	open      = []model.BookingStatus{model.StatusPending, model.StatusAccepted, model.StatusConfirmed}
	admitted  = []model.BookingStatus{model.StatusAccepted, model.StatusConfirmed}
	occupying = []model.BookingStatus{model.StatusActive, model.StatusOverdue}
	nonFinal  = []model.BookingStatus{
		model.StatusPending, model.StatusAccepted, model.StatusConfirmed, model.StatusActive, model.StatusOverdue,
	}
)

var table = map[Event]transition{
	EventPayment:       {from: open, who: anyone},
	EventIssueCheckIn:  {from: admitted, who: renter},
	EventIssueCheckOut: {from: occupying, who: renter},
	EventCheckIn:       {from: admitted, to: model.StatusActive, who: provider},
	EventCheckOut:      {from: occupying, to: model.StatusCompleted, who: provider},
	EventSessionEnd:    {from: []model.BookingStatus{model.StatusConfirmed, model.StatusActive}, to: model.StatusOverdue, who: anyone},
	EventCancel:        {from: open, to: model.StatusCancelled, who: renter},
	EventExtend:        {from: []model.BookingStatus{model.StatusAccepted, model.StatusConfirmed, model.StatusActive}, who: renterOrAdmin},

	// Only enabled with the legacy flag.
	EventLegacyComplete: {from: []model.BookingStatus{model.StatusActive}, to: model.StatusCompleted, who: provider},

	EventAccept:        {from: []model.BookingStatus{model.StatusPending}, to: model.StatusAccepted, who: providerOrAdmin},
	EventReject:        {from: []model.BookingStatus{model.StatusPending, model.StatusAccepted}, to: model.StatusRejected, who: providerOrAdmin},
	EventConfirm:       {from: []model.BookingStatus{model.StatusPending, model.StatusAccepted}, to: model.StatusConfirmed, who: providerOrAdmin},
	EventForceActive:   {from: open, to: model.StatusActive, who: providerOrAdmin},
	EventForceOverdue:  {from: []model.BookingStatus{model.StatusConfirmed, model.StatusActive}, to: model.StatusOverdue, who: providerOrAdmin},
	EventForceComplete: {from: nonFinal, to: model.StatusCompleted, who: providerOrAdmin},
	EventForceCancel:   {from: nonFinal, to: model.StatusCancelled, who: providerOrAdmin},
}

// overrides maps an override target status to its event. pending is never a target.
var overrides = map[model.BookingStatus]Event{
	model.StatusAccepted:  EventAccept,
	model.StatusRejected:  EventReject,
	model.StatusConfirmed: EventConfirm,
	model.StatusActive:    EventForceActive,
	model.StatusOverdue:   EventForceOverdue,
	model.StatusCompleted: EventForceComplete,
	model.StatusCancelled: EventForceCancel,
}

// Machine is the single place where transitions are checked.
type Machine struct {
	// Legacy lets a check-in code issued during an active session complete it.
	Legacy bool
}

// Sources returns the statuses from which ev may fire.
func (m Machine) Sources(ev Event) []model.BookingStatus {
	t, ok := table[ev]
	if !ok || (ev == EventLegacyComplete && !m.Legacy) {
		return nil
	}
	from := t.from
	if ev == EventIssueCheckIn && m.Legacy {
		from = append(slices.Clone(from), model.StatusActive)
	}
	return from
}

// Next returns the status reached by firing ev from current.
func (m Machine) Next(current model.BookingStatus, ev Event) (model.BookingStatus, error) {
	from := m.Sources(ev)
	if from == nil {
		return "", apperr.Validation("unknown transition %q", ev)
	}
	if !slices.Contains(from, current) {
		return "", apperr.Conflict("cannot %s a booking that is %s", ev, current)
	}
	if to := table[ev].to; to != "" {
		return to, nil
	}
	return current, nil
}

// Authorize checks that actor may fire ev on b. space may be nil when it
// no longer exists.
func (m Machine) Authorize(ev Event, b *model.Booking, space *model.ParkingSpace, actor Actor) error {
	t, ok := table[ev]
	if !ok {
		return apperr.Validation("unknown transition %q", ev)
	}
	isRenter := actor.ID != "" && actor.ID == b.UserID
	isAdmin := actor.Role == RoleAdmin
	isProvider := CanVerify(b, space, actor.ID)

	switch t.who {
	case anyone:
		return nil
	case renter:
		if isRenter {
			return nil
		}
	case renterOrAdmin:
		if isRenter || isAdmin {
			return nil
		}
	case provider:
		if isProvider {
			return nil
		}
	case providerOrAdmin:
		if isAdmin || (actor.Role == RoleProvider && isProvider) {
			return nil
		}
	}
	return apperr.Unauthorized("not allowed to %s this booking", ev)
}

// Transition authorizes actor and returns the next status in one step.
func (m Machine) Transition(b *model.Booking, space *model.ParkingSpace, ev Event, actor Actor) (model.BookingStatus, error) {
	if err := m.Authorize(ev, b, space, actor); err != nil {
		return "", err
	}
	return m.Next(b.Status, ev)
}

// OverrideEvent returns the event a manual status override to target fires.
func OverrideEvent(target model.BookingStatus) (Event, error) {
	ev, ok := overrides[target]
	if !ok {
		return "", apperr.Validation("invalid status target %q", target)
	}
	return ev, nil
}

// CanVerify reports whether actingUserID is the provider of the booking:
// the assigned provider, or the space owner when none is assigned.
func CanVerify(b *model.Booking, space *model.ParkingSpace, actingUserID string) bool {
	if actingUserID == "" {
		return false
	}
	if b.ProviderID != "" {
		return b.ProviderID == actingUserID
	}
	return space != nil && space.OwnerID == actingUserID
}

// CanView reports whether actor may read the booking.
func CanView(b *model.Booking, space *model.ParkingSpace, actor Actor) bool {
	return actor.Role == RoleAdmin || (actor.ID != "" && actor.ID == b.UserID) || CanVerify(b, space, actor.ID)
}
