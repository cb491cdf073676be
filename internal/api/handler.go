package api

import (
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"parking-booking-backend/internal/booking"
	"parking-booking-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	bookings *booking.Service
	store    store.Store
	webpush  *webpush.Options
	cache    *cache.Cache
	loc      *time.Location
	log      *zap.Logger
}

// NewHandler creates a new API handler. loc is the zone of date + HH:MM
// booking windows.
func NewHandler(svc *booking.Service, s store.Store, webpushOptions *webpush.Options,
	responses *cache.Cache, loc *time.Location, log *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		bookings: svc,
		store:    s,
		webpush:  webpushOptions,
		cache:    responses,
		loc:      loc,
		log:      log.Named("api"),
	}
}

func capacityPath(spaceID int64) string {
	return "/api/spaces/" + strconv.FormatInt(spaceID, 10) + "/capacity"
}

// evictCapacity drops the cached capacity of a space after its counter may have moved.
func (h *Handler) evictCapacity(spaceID int64) {
	if h.cache != nil {
		h.cache.Delete(capacityPath(spaceID))
	}
}
