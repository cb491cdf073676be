package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"parking-booking-backend/internal/booking"
	"parking-booking-backend/internal/model"
	"parking-booking-backend/internal/mw"
	"parking-booking-backend/internal/otp"
	"parking-booking-backend/internal/parse"
)

// createBookingRequest takes RFC3339 instants, or HH:MM times when Date is set.
type createBookingRequest struct {
	ParkingSpaceID int64  `json:"parkingSpaceId" binding:"required,gt=0"`
	Date           string `json:"date"`
	StartTime      string `json:"startTime" binding:"required"`
	EndTime        string `json:"endTime" binding:"required"`
}

// CreateBooking books a window at a parking space for the caller.
func (h *Handler) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	var (
		in  = booking.CreateInput{ParkingSpaceID: req.ParkingSpaceID}
		err error
	)
	if req.Date != "" {
		in.Start, in.End, err = parse.ParseWindow(req.Date, req.StartTime, req.EndTime, h.loc)
	} else {
		in.Start, in.End, err = parse.ParseInstants(req.StartTime, req.EndTime)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	v, err := h.bookings.Create(c.Request.Context(), mw.ActorFrom(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// GetBooking returns a booking visible to the caller.
func (h *Handler) GetBooking(c *gin.Context) {
	v, err := h.bookings.Get(c.Request.Context(), c.Param("id"), mw.ActorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// IssueOTP generates a check-in or checkout code for the renter.
func (h *Handler) IssueOTP(c *gin.Context) {
	slot, err := otp.ParseSlot(c.Param("slot"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	issued, err := h.bookings.IssueOTP(c.Request.Context(), c.Param("id"), slot, mw.ActorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, issued)
}

type verifyRequest struct {
	Code string `json:"code" binding:"required"`
}

type verifyFunc func(ctx context.Context, id string, actor booking.Actor, code string) (*booking.View, error)

// CheckIn verifies the check-in code on behalf of the provider.
func (h *Handler) CheckIn(c *gin.Context) {
	h.verify(c, h.bookings.CheckIn)
}

// CheckOut verifies the checkout code on behalf of the provider.
func (h *Handler) CheckOut(c *gin.Context) {
	h.verify(c, h.bookings.CheckOut)
}

func (h *Handler) verify(c *gin.Context, fn verifyFunc) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code is required")
		return
	}
	v, err := fn(c.Request.Context(), c.Param("id"), mw.ActorFrom(c), req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.evictCapacity(v.ParkingSpaceID)
	c.JSON(http.StatusOK, v)
}

type cancelRequest struct {
	RefundPercent *float64 `json:"refundPercent"`
}

// CancelBooking cancels the caller's booking and records the refund.
func (h *Handler) CancelBooking(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}
	v, err := h.bookings.Cancel(c.Request.Context(), c.Param("id"), mw.ActorFrom(c), req.RefundPercent)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GetRefundQuote previews the refund of cancelling now.
func (h *Handler) GetRefundQuote(c *gin.Context) {
	var query struct {
		RefundPercent *float64 `form:"refundPercent"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "refundPercent must be a number")
		return
	}
	q, err := h.bookings.RefundQuote(c.Request.Context(), c.Param("id"), mw.ActorFrom(c), query.RefundPercent)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type extendRequest struct {
	Hours float64 `json:"hours" binding:"required,gt=0"`
}

// ExtendBooking lengthens the booked window.
func (h *Handler) ExtendBooking(c *gin.Context) {
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "hours must be greater than zero")
		return
	}
	v, err := h.bookings.Extend(c.Request.Context(), c.Param("id"), mw.ActorFrom(c), req.Hours)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type statusRequest struct {
	Status model.BookingStatus `json:"status" binding:"required"`
}

// OverrideStatus lets the provider or an admin force a status.
func (h *Handler) OverrideStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	v, err := h.bookings.Override(c.Request.Context(), c.Param("id"), mw.ActorFrom(c), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.evictCapacity(v.ParkingSpaceID)
	c.JSON(http.StatusOK, v)
}
