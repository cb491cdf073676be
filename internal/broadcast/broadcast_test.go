package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	channel string
	message []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisBroadcaster_PublishesEnvelope(t *testing.T) {
	fake := &fakePublisher{}
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	b := &RedisBroadcaster{client: fake, channel: "parking-events", now: func() time.Time { return at }}

	err := b.Publish(context.Background(), EventParkingReleased, SpacePayload{ID: 7, AvailableSpots: 1, TotalSpots: 1})
	require.NoError(t, err)
	assert.Equal(t, "parking-events", fake.channel)

	var env Envelope
	require.NoError(t, json.Unmarshal(fake.message, &env))
	assert.Equal(t, EventParkingReleased, env.Event)
	assert.True(t, at.Equal(env.OccurredAt))
	assert.JSONEq(t, `{"id":7,"availableSpots":1,"totalSpots":1}`, string(env.Data))
}

func TestRedisBroadcaster_SurfacesPublishError(t *testing.T) {
	fake := &fakePublisher{err: errors.New("connection refused")}
	b := &RedisBroadcaster{client: fake, channel: "parking-events", now: time.Now}

	err := b.Publish(context.Background(), EventBookingUpdated, map[string]string{"id": "b-1"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedisBroadcaster_RejectsUnencodablePayload(t *testing.T) {
	b := &RedisBroadcaster{client: &fakePublisher{}, channel: "c", now: time.Now}
	err := b.Publish(context.Background(), EventBookingUpdated, make(chan int))
	assert.Error(t, err)
}
