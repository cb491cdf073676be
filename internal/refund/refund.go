// Package refund computes cancellation refunds. Everything here is pure.
package refund

import (
	"math"
	"strconv"
	"time"

	"parking-booking-backend/internal/apperr"
)

// Percent returns the refund percentage for a cancellation made the given
// number of hours before the booked start.
func Percent(hoursUntilStart float64) float64 {
	switch {
	case hoursUntilStart > 3:
		return 60
	case hoursUntilStart > 2:
		return 40
	case hoursUntilStart > 1:
		return 10
	default:
		return 0
	}
}

// Input describes the booking being cancelled.
type Input struct {
	Start        time.Time
	End          time.Time
	PricePerHour float64
	TotalPrice   float64
	// Requested is an optional client-proposed percent; it can only lower the refund.
	Requested *float64
}

// Quote is the outcome of a refund computation.
type Quote struct {
	HoursUntilStart float64 `json:"hoursUntilStart"`
	Percent         float64 `json:"refundPercent"`
	PaidAmount      float64 `json:"paidAmount"`
	Amount          float64 `json:"refundAmount"`
}

// Calculate returns the refund for cancelling at now. Cancelling with
// minHours or fewer hours left before the start is a Conflict.
func Calculate(in Input, now time.Time, minHours float64) (Quote, error) {
	hours := in.Start.Sub(now).Hours()
	if hours <= minHours {
		return Quote{HoursUntilStart: hours}, apperr.Conflict("cannot cancel within %s of start", hoursLabel(minHours))
	}

	pct := Percent(hours)
	if in.Requested != nil {
		if req := clamp(*in.Requested, 0, 100); req <= pct {
			pct = req
		}
	}

	paid := PaidAmount(in.TotalPrice, in.PricePerHour, in.End.Sub(in.Start))
	return Quote{
		HoursUntilStart: hours,
		Percent:         pct,
		PaidAmount:      paid,
		Amount:          paid * pct / 100,
	}, nil
}

// PaidAmount prefers the recorded total and falls back to the hourly price
// times the booked hours rounded up, with a one hour minimum.
func PaidAmount(totalPrice, pricePerHour float64, booked time.Duration) float64 {
	if totalPrice > 0 {
		return totalPrice
	}
	return pricePerHour * BillableHours(booked)
}

// BillableHours rounds a duration up to whole hours, never below one.
func BillableHours(d time.Duration) float64 {
	return math.Max(1, math.Ceil(d.Hours()))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func hoursLabel(h float64) string {
	if h == 1 {
		return "1 hour"
	}
	return strconv.FormatFloat(h, 'f', -1, 64) + " hours"
}
