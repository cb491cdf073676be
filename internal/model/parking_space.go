package model

import "time"

// ParkingSpace is the capacity-relevant view of a parking location.
// 0 <= AvailableSpots <= TotalSpots is maintained by the capacity ledger.
type ParkingSpace struct {
	ID             int64   `gorm:"primaryKey"`
	OwnerID        string  `gorm:"size:64;not null;index"`
	Name           string  `gorm:"size:256"`
	PricePerHour   float64 `gorm:"not null;default:0"`
	TotalSpots     int     `gorm:"not null"`
	AvailableSpots int     `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
