package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type capacityResponse struct {
	ID             int64 `json:"id"`
	TotalSpots     int   `json:"totalSpots"`
	AvailableSpots int   `json:"availableSpots"`
}

// GetCapacity returns the live spot counters of a space.
func (h *Handler) GetCapacity(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid space id")
		return
	}
	space, err := h.store.GetSpace(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, capacityResponse{
		ID:             space.ID,
		TotalSpots:     space.TotalSpots,
		AvailableSpots: space.AvailableSpots,
	})
}
