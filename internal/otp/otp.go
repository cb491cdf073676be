// Package otp issues and verifies the six-digit one-time codes that gate
// check-in and check-out.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/model"
)

// Slot names a stored code on a booking.
type Slot string

const (
	SlotCheckIn  Slot = "checkin"
	SlotCheckOut Slot = "checkout"
)

// ParseSlot accepts the path form of a slot name.
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotCheckIn, SlotCheckOut:
		return Slot(s), nil
	}
	return "", apperr.Validation("unknown otp slot %q", s)
}

// Column returns the column prefix of the slot in the bookings table.
func (s Slot) Column() string {
	if s == SlotCheckOut {
		return "check_out_otp_"
	}
	return "check_in_otp_"
}

var (
	ErrMissing  = apperr.NotFound("no otp pending")
	ErrExpired  = apperr.Conflict("otp expired")
	ErrMismatch = apperr.Conflict("invalid otp")
)

const (
	codeMin   = 100000
	codeRange = 899999
)

// Generate returns a uniformly random code in [100000, 999999).
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", codeMin+n.Int64()), nil
}

// Issue builds a fresh slot that overwrites any previous code.
func Issue(now time.Time, ttl time.Duration) (model.OTPSlot, error) {
	code, err := Generate()
	if err != nil {
		return model.OTPSlot{}, err
	}
	expires := now.Add(ttl).UTC()
	return model.OTPSlot{Code: code, ExpiresAt: &expires}, nil
}

// Check validates a submitted code against a stored slot without mutating it.
// A missing code wins over expiry, and expiry wins over mismatch.
func Check(stored model.OTPSlot, submitted string, now time.Time) error {
	if !stored.Pending() {
		return ErrMissing
	}
	if stored.ExpiresAt == nil || now.After(*stored.ExpiresAt) {
		return ErrExpired
	}
	if strings.TrimSpace(submitted) != stored.Code {
		return ErrMismatch
	}
	return nil
}

// ConsumedFields returns the column updates that clear a verified slot.
func (s Slot) ConsumedFields() map[string]any {
	p := s.Column()
	return map[string]any{
		p + "code":       "",
		p + "expires_at": nil,
		p + "verified":   true,
	}
}

// ClearedFields returns the column updates that drop a pending code without
// marking it verified.
func (s Slot) ClearedFields() map[string]any {
	p := s.Column()
	return map[string]any{
		p + "code":       "",
		p + "expires_at": nil,
	}
}

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotCheckOut {
		return SlotCheckIn
	}
	return SlotCheckOut
}

// IssuedFields returns the column updates that store a new code in the slot.
func (s Slot) IssuedFields(o model.OTPSlot) map[string]any {
	p := s.Column()
	return map[string]any{
		p + "code":       o.Code,
		p + "expires_at": o.ExpiresAt,
		p + "verified":   false,
	}
}
