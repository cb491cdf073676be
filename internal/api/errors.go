package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"parking-booking-backend/internal/apperr"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusBadRequest,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindUnauthorized: http.StatusForbidden,
	apperr.KindInternal:     http.StatusInternalServerError,
}

func errorBody(kind apperr.Kind, msg string) gin.H {
	return gin.H{"error": gin.H{"kind": kind, "message": msg}}
}

// writeError renders err with the status of its kind. Internal details are
// logged, never returned.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := apperr.MessageOf(err)
	if kind == apperr.KindInternal {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, errorBody(kind, msg))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody(apperr.KindValidation, msg))
}
