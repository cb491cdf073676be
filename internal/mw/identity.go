package mw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"parking-booking-backend/internal/booking"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	actorKey = "actor"
)

// Identity reads the caller asserted by the upstream auth layer. Requests
// without a user id or a known role are rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderUserID)
		role := booking.Role(c.GetHeader(HeaderUserRole))
		switch {
		case id == "":
			abortUnauthenticated(c, "missing "+HeaderUserID+" header")
			return
		case role == "":
			abortUnauthenticated(c, "missing "+HeaderUserRole+" header")
			return
		case role != booking.RoleUser && role != booking.RoleProvider && role != booking.RoleAdmin:
			abortUnauthenticated(c, "unknown role "+string(role))
			return
		}
		c.Set(actorKey, booking.Actor{ID: id, Role: role})
		c.Next()
	}
}

// ActorFrom returns the caller stored by Identity.
func ActorFrom(c *gin.Context) booking.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(booking.Actor); ok {
			return a
		}
	}
	return booking.Actor{}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"kind": "unauthenticated", "message": msg},
	})
}
