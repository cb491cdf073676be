package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"parking-booking-backend/internal/apperr"
	"parking-booking-backend/internal/booking"
	"parking-booking-backend/internal/mw"
)

type paymentRequest struct {
	BookingID string `json:"bookingId" binding:"required"`
	Verified  *bool  `json:"verified" binding:"required"`
}

// ConfirmPayment receives the payment collaborator's verdict. Only the
// admin role may report payments.
func (h *Handler) ConfirmPayment(c *gin.Context) {
	if mw.ActorFrom(c).Role != booking.RoleAdmin {
		h.writeError(c, apperr.Unauthorized("payments are reported by the payment service"))
		return
	}
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bookingId and verified are required")
		return
	}
	v, err := h.bookings.ConfirmPayment(c.Request.Context(), booking.PaymentSignal{
		BookingID: req.BookingID,
		Verified:  *req.Verified,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
