// Package ledger mutates the available/total spot counters of parking
// spaces. Every mutation is a single conditional UPDATE, so concurrent
// callers can never drive a counter below zero or above its ceiling.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/broadcast"
	"parking-booking-backend/internal/model"
)

// ErrNoCapacity is returned when a space has no spot left to consume.
var ErrNoCapacity = apperr.Conflict("no capacity available")

// Ledger owns the capacity counters.
type Ledger struct {
	events broadcast.Broadcaster
	log    *zap.Logger
}

// New creates a ledger that announces capacity changes on events.
func New(events broadcast.Broadcaster, log *zap.Logger) *Ledger {
	return &Ledger{events: events, log: log.Named("ledger")}
}

// DecrementIfAvailable consumes one spot only while available_spots > 0.
// db may be a transaction handle.
func (l *Ledger) DecrementIfAvailable(ctx context.Context, db *gorm.DB, spaceID int64) (*model.ParkingSpace, error) {
	res := db.WithContext(ctx).
		Model(&model.ParkingSpace{}).
		Where("id = ? AND available_spots > 0", spaceID).
		UpdateColumn("available_spots", gorm.Expr("available_spots - ?", 1))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to decrement capacity of space %d: %w", spaceID, res.Error)
	}

	space, err := load(ctx, db, spaceID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return space, ErrNoCapacity
	}
	l.log.Debug("spot consumed", zap.Int64("space_id", spaceID), zap.Int("available", space.AvailableSpots))
	return space, nil
}

// Release returns one spot, clamped at total_spots. Releasing a space that
// is already at its ceiling is a no-op and reports changed=false.
func (l *Ledger) Release(ctx context.Context, db *gorm.DB, spaceID int64) (space *model.ParkingSpace, changed bool, err error) {
	res := db.WithContext(ctx).
		Model(&model.ParkingSpace{}).
		Where("id = ? AND available_spots < total_spots", spaceID).
		UpdateColumn("available_spots", gorm.Expr("available_spots + ?", 1))
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to release capacity of space %d: %w", spaceID, res.Error)
	}

	space, err = load(ctx, db, spaceID)
	if err != nil {
		return nil, false, err
	}
	changed = res.RowsAffected > 0
	if changed {
		l.log.Debug("spot released", zap.Int64("space_id", spaceID), zap.Int("available", space.AvailableSpots))
	}
	return space, changed, nil
}

// Announce publishes the space's current counter. Failures are logged only.
func (l *Ledger) Announce(ctx context.Context, event string, space *model.ParkingSpace) {
	if space == nil {
		return
	}
	payload := broadcast.SpacePayload{ID: space.ID, AvailableSpots: space.AvailableSpots, TotalSpots: space.TotalSpots}
	if err := l.events.Publish(ctx, event, payload); err != nil {
		l.log.Warn("failed to broadcast capacity change", zap.String("event", event), zap.Int64("space_id", space.ID), zap.Error(err))
	}
}

func load(ctx context.Context, db *gorm.DB, spaceID int64) (*model.ParkingSpace, error) {
	var space model.ParkingSpace
	if err := db.WithContext(ctx).First(&space, spaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("parking space %d not found", spaceID)
		}
		return nil, fmt.Errorf("failed to load parking space %d: %w", spaceID, err)
	}
	return &space, nil
}
