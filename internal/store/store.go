package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/model"
)

// Store defines the persistence operations of the booking core.
type Store interface {
	DB() *gorm.DB
	// WithTx runs fn inside one transaction; fn must only use the Store it is given.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	GetSpace(ctx context.Context, id int64) (*model.ParkingSpace, error)

	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	// UpdateBookingIf applies fields only while the booking is in one of the
	// from statuses. It reports whether a row was changed.
	UpdateBookingIf(ctx context.Context, id string, from []model.BookingStatus, fields map[string]any) (bool, error)
	// UpdateBookingIfPayment is UpdateBookingIf with the payment status
	// guarded as well.
	UpdateBookingIfPayment(ctx context.Context, id string, from []model.BookingStatus, payments []model.PaymentStatus, fields map[string]any) (bool, error)
	// ExpireSession moves a confirmed or active booking to overdue only while
	// its session end is at or before now.
	ExpireSession(ctx context.Context, id string, now time.Time) (bool, error)
	FindLapsedSessions(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	FindOpenSessions(ctx context.Context) ([]model.Booking, error)

	HasBookedOverlap(ctx context.Context, spaceID int64, start, end time.Time) (bool, error)
	MarkSlot(ctx context.Context, slot model.AvailabilitySlot) error
	UnmarkSlot(ctx context.Context, spaceID int64, date, startTime, endTime string) error

	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint, userID string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) GetSpace(ctx context.Context, id int64) (*model.ParkingSpace, error) {
	var space model.ParkingSpace
	if err := s.db.WithContext(ctx).First(&space, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("parking space %d not found", id)
		}
		return nil, fmt.Errorf("failed to load parking space %d: %w", id, err)
	}
	return &space, nil
}

func (s *gormStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (s *gormStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("booking %s not found", id)
		}
		return nil, fmt.Errorf("failed to load booking %s: %w", id, err)
	}
	return &b, nil
}

func (s *gormStore) UpdateBookingIf(ctx context.Context, id string, from []model.BookingStatus, fields map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update booking %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) UpdateBookingIfPayment(ctx context.Context, id string, from []model.BookingStatus,
	payments []model.PaymentStatus, fields map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("id = ? AND status IN ? AND payment_status IN ?", id, from, payments).
		Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update booking %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) ExpireSession(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("id = ? AND status IN ?", id, []model.BookingStatus{model.StatusConfirmed, model.StatusActive}).
		Where("session_end_at IS NOT NULL AND session_end_at <= ?", now).
		Update("status", model.StatusOverdue)
	if res.Error != nil {
		return false, fmt.Errorf("failed to expire booking %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FindLapsedSessions returns bookings whose session end has passed while
// they are still confirmed or active.
func (s *gormStore) FindLapsedSessions(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	var out []model.Booking
	q := s.db.WithContext(ctx).
		Where("status IN ?", []model.BookingStatus{model.StatusConfirmed, model.StatusActive}).
		Where("session_end_at IS NOT NULL AND session_end_at <= ?", now).
		Order("session_end_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to find lapsed sessions: %w", err)
	}
	return out, nil
}

// FindOpenSessions returns active bookings that carry a session end.
func (s *gormStore) FindOpenSessions(ctx context.Context) ([]model.Booking, error) {
	var out []model.Booking
	if err := s.db.WithContext(ctx).
		Where("status = ? AND session_end_at IS NOT NULL", model.StatusActive).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to find open sessions: %w", err)
	}
	return out, nil
}

func (s *gormStore) HasBookedOverlap(ctx context.Context, spaceID int64, start, end time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.AvailabilitySlot{}).
		Where("parking_space_id = ? AND is_booked = ?", spaceID, true).
		Where("starts_at < ? AND ends_at > ?", end, start).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check slot overlap for space %d: %w", spaceID, err)
	}
	return count > 0, nil
}

// MarkSlot upserts the slot identified by (space, date, start, end) as booked.
func (s *gormStore) MarkSlot(ctx context.Context, slot model.AvailabilitySlot) error {
	slot.IsBooked = true
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "parking_space_id"}, {Name: "date"}, {Name: "start_time"}, {Name: "end_time"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"is_booked", "booking_id", "starts_at", "ends_at", "updated_at"}),
	}).Create(&slot).Error
	if err != nil {
		return fmt.Errorf("failed to mark slot %s %s-%s for space %d: %w", slot.Date, slot.StartTime, slot.EndTime, slot.ParkingSpaceID, err)
	}
	return nil
}

func (s *gormStore) UnmarkSlot(ctx context.Context, spaceID int64, date, startTime, endTime string) error {
	err := s.db.WithContext(ctx).
		Model(&model.AvailabilitySlot{}).
		Where("parking_space_id = ? AND date = ? AND start_time = ? AND end_time = ?", spaceID, date, startTime, endTime).
		Updates(map[string]any{"is_booked": false, "booking_id": ""}).Error
	if err != nil {
		return fmt.Errorf("failed to unmark slot %s %s-%s for space %d: %w", date, startTime, endTime, spaceID, err)
	}
	return nil
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint, userID string) error {
	err := s.db.WithContext(ctx).
		Where("endpoint = ? AND user_id = ?", endpoint, userID).
		Delete(&model.PushSubscription{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}
