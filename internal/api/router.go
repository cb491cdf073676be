package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"parking-booking-backend/config"
	"parking-booking-backend/internal/mw"
)

// NewResponseCache builds the in-memory store behind cached GET routes.
func NewResponseCache(cfg config.ServerConfig) *cache.Cache {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	return cache.New(ttl, 2*ttl+time.Minute)
}

// NewRouter creates and configures the gin engine. The handler's response
// cache must be the one passed as responses so mutations can evict entries.
func NewRouter(cfg config.ServerConfig, h *Handler, responses *cache.Cache) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger(h.log))

	r.GET("/health", Health)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	caching := mw.Cache(responses, time.Duration(cfg.CacheTTLSeconds)*time.Second)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/spaces/:id/capacity", caching, h.GetCapacity)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		authed := api.Group("")
		authed.Use(mw.Identity())

		authed.POST("/bookings", h.CreateBooking)
		authed.GET("/bookings/:id", h.GetBooking)
		authed.POST("/bookings/:id/otp/:slot", h.IssueOTP)
		authed.POST("/bookings/:id/check-in", h.CheckIn)
		authed.POST("/bookings/:id/check-out", h.CheckOut)
		authed.POST("/bookings/:id/cancel", h.CancelBooking)
		authed.GET("/bookings/:id/refund-quote", h.GetRefundQuote)
		authed.POST("/bookings/:id/extend", h.ExtendBooking)
		authed.PATCH("/bookings/:id/status", h.OverrideStatus)

		authed.POST("/payments/confirm", h.ConfirmPayment)

		authed.PUT("/subscriptions", h.PutSubscription)
		authed.DELETE("/subscriptions", h.DeleteSubscription)
	}

	return r
}
