package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/realtime-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

// ErrNoEventBus is returned when publishing before the framework injected the bus.
var ErrNoEventBus = errors.New("event bus not set")

func encodeEnvelope(roomID string, ev Event) (events.RoomBroadcastEvent, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return events.RoomBroadcastEvent{}, fmt.Errorf("failed to encode %s payload: %w", ev.Type, err)
	}
	return events.RoomBroadcastEvent{
		RoomID:    roomID,
		Type:      ev.Type,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}

func decodeEnvelope(env events.RoomBroadcastEvent) Event {
	return Event{Type: env.Type, Data: env.Payload}
}

// EventBusBackplane routes room events through the mono event bus. The
// broadcast module consumes them and fans out to the local registry.
type EventBusBackplane struct {
	bus mono.EventBus
}

// PublishRoom implements Publisher.
func (b *EventBusBackplane) PublishRoom(_ context.Context, roomID string, ev Event) error {
	if b.bus == nil {
		return ErrNoEventBus
	}
	env, err := encodeEnvelope(roomID, ev)
	if err != nil {
		return err
	}
	if err := events.RoomBroadcastV1.Publish(b.bus, env, nil); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// RedisBackplane routes room events through a Redis Pub/Sub channel so that
// every instance fans out to the connections it holds.
type RedisBackplane struct {
	client  *redis.Client
	channel string
	fanout  *Fanout
	logger  types.Logger
}

// NewRedisBackplane creates a RedisBackplane publishing on channel.
func NewRedisBackplane(client *redis.Client, channel string, fanout *Fanout, logger types.Logger) *RedisBackplane {
	return &RedisBackplane{
		client:  client,
		channel: channel,
		fanout:  fanout,
		logger:  logger,
	}
}

// PublishRoom implements Publisher.
func (b *RedisBackplane) PublishRoom(ctx context.Context, roomID string, ev Event) error {
	env, err := encodeEnvelope(roomID, ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

// Run queues every envelope received on sub for the local registry until ctx
// is cancelled or the subscription closes.
func (b *RedisBackplane) Run(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env events.RoomBroadcastEvent
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Error("Dropping malformed backplane message", "error", err)
				continue
			}
			b.fanout.Publish(env.RoomID, decodeEnvelope(env))
		}
	}
}

// Subscribe opens the Pub/Sub subscription and waits for confirmation.
func (b *RedisBackplane) Subscribe(ctx context.Context) (*redis.PubSub, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	return sub, nil
}
