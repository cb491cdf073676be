package model

import "time"

// AvailabilitySlot is display metadata marking a date+time window of a
// space as booked. It is eventually consistent and never authoritative
// for capacity.
type AvailabilitySlot struct {
	ID             int64     `gorm:"primaryKey"`
	ParkingSpaceID int64     `gorm:"not null;uniqueIndex:idx_slot_window"`
	Date           string    `gorm:"size:10;not null;uniqueIndex:idx_slot_window"`
	StartTime      string    `gorm:"size:5;not null;uniqueIndex:idx_slot_window"`
	EndTime        string    `gorm:"size:5;not null;uniqueIndex:idx_slot_window"`
	StartsAt       time.Time `gorm:"not null;index"`
	EndsAt         time.Time `gorm:"not null"`
	IsBooked       bool      `gorm:"not null;default:false"`
	BookingID      string    `gorm:"size:36"`
	UpdatedAt      time.Time
}
