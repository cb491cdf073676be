// Package broadcast emits named booking and capacity events to connected
// clients. Delivery is best-effort; callers log and ignore failures.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event names.
const (
	EventBookingUpdated   = "booking-updated"
	EventBookingCompleted = "booking-completed"
	EventBookingOverdue   = "booking-overdue"
	EventParkingUpdated   = "parking-updated"
	EventParkingReleased  = "parking-released"
)

// SpacePayload is the capacity view carried by parking-* events.
type SpacePayload struct {
	ID             int64 `json:"id"`
	AvailableSpots int   `json:"availableSpots"`
	TotalSpots     int   `json:"totalSpots"`
}

// Envelope wraps every published event.
type Envelope struct {
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// Broadcaster publishes events.
type Broadcaster interface {
	Publish(ctx context.Context, event string, payload any) error
}

// publisher is the subset of *redis.Client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisBroadcaster publishes JSON envelopes on a Redis pub/sub channel.
type RedisBroadcaster struct {
	client  publisher
	channel string
	now     func() time.Time
}

// NewRedisBroadcaster creates a broadcaster over an existing client.
func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel, now: time.Now}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, event string, payload any) error {
	msg, err := encode(event, payload, b.now().UTC())
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, b.channel, err)
	}
	return nil
}

func encode(event string, payload any, at time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, OccurredAt: at, Data: data})
}

// LogBroadcaster writes events to the log. It is used when Redis is disabled.
type LogBroadcaster struct {
	log *zap.Logger
}

func NewLogBroadcaster(log *zap.Logger) *LogBroadcaster {
	return &LogBroadcaster{log: log.Named("broadcast")}
}

func (b *LogBroadcaster) Publish(_ context.Context, event string, payload any) error {
	b.log.Debug("event", zap.String("event", event), zap.Any("payload", payload))
	return nil
}
