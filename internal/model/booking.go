package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusAccepted  BookingStatus = "accepted"
	StatusRejected  BookingStatus = "rejected"
	StatusConfirmed BookingStatus = "confirmed"
	StatusActive    BookingStatus = "active"
	StatusOverdue   BookingStatus = "overdue"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
)

// Terminal reports whether no transition may leave the status.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusConfirmed,
		StatusActive, StatusOverdue, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is orthogonal to BookingStatus but gates check-in.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

// OTPSlot is one stored one-time code. An empty Code means nothing is pending.
type OTPSlot struct {
	Code      string     `gorm:"size:16"`
	ExpiresAt *time.Time
	Verified  bool `gorm:"not null;default:false"`
}

// Pending reports whether a code awaits verification.
func (o OTPSlot) Pending() bool {
	return o.Code != ""
}

// Cancellation records who cancelled and what was refunded.
type Cancellation struct {
	CancelledBy   string  `gorm:"size:64"`
	RefundPercent float64 `gorm:"not null;default:0"`
	RefundAmount  float64 `gorm:"not null;default:0"`
}

// Booking is one reservation of a time window at a parking space. Rows are
// never deleted; cancellation is a terminal status.
type Booking struct {
	ID             string        `gorm:"primaryKey;size:36"`
	UserID         string        `gorm:"size:64;not null;index"`
	ParkingSpaceID int64         `gorm:"not null;index"`
	ProviderID     string        `gorm:"size:64;index"`
	PricePerHour   float64       `gorm:"not null"`
	TotalPrice     float64       `gorm:"not null"`
	StartTime      time.Time     `gorm:"not null;index"`
	EndTime        time.Time     `gorm:"not null"`
	Status         BookingStatus `gorm:"size:16;not null;index"`
	PaymentStatus  PaymentStatus `gorm:"size:16;not null"`

	CheckInOTP  OTPSlot `gorm:"embedded;embeddedPrefix:check_in_otp_"`
	CheckOutOTP OTPSlot `gorm:"embedded;embeddedPrefix:check_out_otp_"`

	StartedAt    *time.Time
	SessionEndAt *time.Time `gorm:"index"`
	EndedAt      *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time

	Cancellation Cancellation `gorm:"embedded;embeddedPrefix:cancellation_"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookedDuration is the requested window length.
func (b *Booking) BookedDuration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}
