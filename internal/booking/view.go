package booking

import (
	"time"

	"parking-booking-backend/internal/model"
)

// OTPView is the client form of an OTP slot. Code is only filled for the renter.
type OTPView struct {
	Code      string     `json:"code,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Verified  bool       `json:"verified"`
}

// CancellationView is present only on cancelled bookings.
type CancellationView struct {
	CancelledBy   string  `json:"cancelledBy"`
	RefundPercent float64 `json:"refundPercent"`
	RefundAmount  float64 `json:"refundAmount"`
}

// View is the outward representation of a booking.
type View struct {
	ID             string              `json:"id"`
	UserID         string              `json:"userId"`
	ParkingSpaceID int64               `json:"parkingSpaceId"`
	ProviderID     string              `json:"providerId,omitempty"`
	PricePerHour   float64             `json:"pricePerHour"`
	TotalPrice     float64             `json:"totalPrice"`
	StartTime      time.Time           `json:"startTime"`
	EndTime        time.Time           `json:"endTime"`
	Status         model.BookingStatus `json:"status"`
	PaymentStatus  model.PaymentStatus `json:"paymentStatus"`
	CheckInOTP     *OTPView            `json:"checkInOtp,omitempty"`
	CheckOutOTP    *OTPView            `json:"checkOutOtp,omitempty"`
	StartedAt      *time.Time          `json:"startedAt,omitempty"`
	SessionEndAt   *time.Time          `json:"sessionEndAt,omitempty"`
	EndedAt        *time.Time          `json:"endedAt,omitempty"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
	CancelledAt    *time.Time          `json:"cancelledAt,omitempty"`
	Cancellation   *CancellationView   `json:"cancellation,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// NewView renders b for viewerID. OTP codes are stripped for everyone but
// the renter; broadcasts pass an empty viewer.
func NewView(b *model.Booking, viewerID string) View {
	showCodes := viewerID != "" && viewerID == b.UserID
	v := View{
		ID:             b.ID,
		UserID:         b.UserID,
		ParkingSpaceID: b.ParkingSpaceID,
		ProviderID:     b.ProviderID,
		PricePerHour:   b.PricePerHour,
		TotalPrice:     b.TotalPrice,
		StartTime:      b.StartTime,
		EndTime:        b.EndTime,
		Status:         b.Status,
		PaymentStatus:  b.PaymentStatus,
		CheckInOTP:     otpView(b.CheckInOTP, showCodes),
		CheckOutOTP:    otpView(b.CheckOutOTP, showCodes),
		StartedAt:      b.StartedAt,
		SessionEndAt:   b.SessionEndAt,
		EndedAt:        b.EndedAt,
		CompletedAt:    b.CompletedAt,
		CancelledAt:    b.CancelledAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
	if b.Status == model.StatusCancelled {
		v.Cancellation = &CancellationView{
			CancelledBy:   b.Cancellation.CancelledBy,
			RefundPercent: b.Cancellation.RefundPercent,
			RefundAmount:  b.Cancellation.RefundAmount,
		}
	}
	return v
}

func otpView(o model.OTPSlot, showCode bool) *OTPView {
	if !o.Pending() && !o.Verified {
		return nil
	}
	v := &OTPView{ExpiresAt: o.ExpiresAt, Verified: o.Verified}
	if showCode {
		v.Code = o.Code
	}
	return v
}
