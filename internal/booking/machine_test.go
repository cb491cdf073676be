package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/model"
)

var allStatuses = []model.BookingStatus{
	model.StatusPending, model.StatusAccepted, model.StatusRejected, model.StatusConfirmed,
	model.StatusActive, model.StatusOverdue, model.StatusCompleted, model.StatusCancelled,
}

func TestMachine_NothingLeavesTerminalStatuses(t *testing.T) {
	m := Machine{Legacy: true}
	for _, status := range allStatuses {
		if !status.Terminal() {
			continue
		}
		for ev := range table {
			_, err := m.Next(status, ev)
			assert.Error(t, err, "event %s fired from terminal status %s", ev, status)
		}
	}
}

func TestMachine_StatusNeverMovesBackward(t *testing.T) {
	rank := map[model.BookingStatus]int{
		model.StatusPending: 0, model.StatusAccepted: 1, model.StatusConfirmed: 2,
		model.StatusActive: 3, model.StatusOverdue: 4,
		model.StatusCompleted: 5, model.StatusCancelled: 5, model.StatusRejected: 5,
	}
	m := Machine{Legacy: true}
	for ev := range table {
		for _, from := range m.Sources(ev) {
			to, err := m.Next(from, ev)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, rank[to], rank[from], "%s: %s -> %s", ev, from, to)
		}
	}
}

func TestMachine_Next(t *testing.T) {
	testCases := []struct {
		name      string
		legacy    bool
		from      model.BookingStatus
		event     Event
		expectTo  model.BookingStatus
		expectErr apperr.Kind
	}{
		{name: "check-in from accepted", from: model.StatusAccepted, event: EventCheckIn, expectTo: model.StatusActive},
		{name: "check-in from confirmed", from: model.StatusConfirmed, event: EventCheckIn, expectTo: model.StatusActive},
		{name: "check-in from pending", from: model.StatusPending, event: EventCheckIn, expectErr: apperr.KindConflict},
		{name: "check-out from overdue", from: model.StatusOverdue, event: EventCheckOut, expectTo: model.StatusCompleted},
		{name: "check-out from accepted", from: model.StatusAccepted, event: EventCheckOut, expectErr: apperr.KindConflict},
		{name: "session end from active", from: model.StatusActive, event: EventSessionEnd, expectTo: model.StatusOverdue},
		{name: "session end from overdue", from: model.StatusOverdue, event: EventSessionEnd, expectErr: apperr.KindConflict},
		{name: "cancel while active", from: model.StatusActive, event: EventCancel, expectErr: apperr.KindConflict},
		{name: "payment keeps status", from: model.StatusConfirmed, event: EventPayment, expectTo: model.StatusConfirmed},
		{name: "extend keeps status", from: model.StatusActive, event: EventExtend, expectTo: model.StatusActive},
		{name: "extend overdue", from: model.StatusOverdue, event: EventExtend, expectErr: apperr.KindConflict},
		{name: "legacy completion disabled", from: model.StatusActive, event: EventLegacyComplete, expectErr: apperr.KindValidation},
		{name: "legacy completion enabled", legacy: true, from: model.StatusActive, event: EventLegacyComplete, expectTo: model.StatusCompleted},
		{name: "check-in code while active without legacy", from: model.StatusActive, event: EventIssueCheckIn, expectErr: apperr.KindConflict},
		{name: "check-in code while active with legacy", legacy: true, from: model.StatusActive, event: EventIssueCheckIn, expectTo: model.StatusActive},
		{name: "accept pending", from: model.StatusPending, event: EventAccept, expectTo: model.StatusAccepted},
		{name: "accept twice", from: model.StatusAccepted, event: EventAccept, expectErr: apperr.KindConflict},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			to, err := Machine{Legacy: tc.legacy}.Next(tc.from, tc.event)
			if tc.expectErr != "" {
				require.Error(t, err)
				assert.Equal(t, tc.expectErr, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectTo, to)
		})
	}
}

func TestMachine_LegacySourcesDoNotLeak(t *testing.T) {
	legacy := Machine{Legacy: true}
	_ = legacy.Sources(EventIssueCheckIn)
	assert.NotContains(t, Machine{}.Sources(EventIssueCheckIn), model.StatusActive)
}

func TestMachine_Authorize(t *testing.T) {
	b := &model.Booking{UserID: renterActor.ID, ProviderID: providerActor.ID}
	m := Machine{}

	testCases := []struct {
		name   string
		event  Event
		actor  Actor
		expect bool
	}{
		{name: "provider verifies check-in", event: EventCheckIn, actor: providerActor, expect: true},
		{name: "renter cannot verify check-in", event: EventCheckIn, actor: renterActor},
		{name: "admin cannot verify check-in", event: EventCheckIn, actor: adminActor},
		{name: "other provider cannot verify", event: EventCheckOut, actor: strangerActor},
		{name: "renter cancels", event: EventCancel, actor: renterActor, expect: true},
		{name: "provider cannot cancel for renter", event: EventCancel, actor: providerActor},
		{name: "renter issues code", event: EventIssueCheckOut, actor: renterActor, expect: true},
		{name: "provider cannot issue code", event: EventIssueCheckIn, actor: providerActor},
		{name: "admin extends", event: EventExtend, actor: adminActor, expect: true},
		{name: "provider overrides", event: EventForceComplete, actor: providerActor, expect: true},
		{name: "admin overrides", event: EventForceCancel, actor: adminActor, expect: true},
		{name: "renter cannot override", event: EventForceComplete, actor: renterActor},
		{name: "other provider cannot override", event: EventAccept, actor: strangerActor},
		{name: "payment needs no actor", event: EventPayment, actor: Actor{}, expect: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.Authorize(tc.event, b, nil, tc.actor)
			if tc.expect {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
		})
	}
}

func TestCanVerify(t *testing.T) {
	space := &model.ParkingSpace{OwnerID: "owner-1"}

	assert.True(t, CanVerify(&model.Booking{ProviderID: "owner-9"}, space, "owner-9"))
	assert.False(t, CanVerify(&model.Booking{ProviderID: "owner-9"}, space, "owner-1"), "assigned provider wins over owner")
	assert.True(t, CanVerify(&model.Booking{}, space, "owner-1"), "owner is the fallback provider")
	assert.False(t, CanVerify(&model.Booking{}, nil, "owner-1"))
	assert.False(t, CanVerify(&model.Booking{}, &model.ParkingSpace{}, ""))
}

func TestOverrideEvent(t *testing.T) {
	ev, err := OverrideEvent(model.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, EventForceComplete, ev)

	for _, target := range []model.BookingStatus{model.StatusPending, "parked"} {
		_, err := OverrideEvent(target)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "target %q", target)
	}
}
