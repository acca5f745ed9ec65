package eventhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bridge fans hub events out through a Redis channel so sibling instances
// (and the browser tabs connected to them) observe each other's mutations.
// Events published locally carry this instance's id; the subscriber drops
// its own echoes and re-emits everything else into the local hub.
type Bridge struct {
	hub      *EventHub
	client   *redis.Client
	channel  string
	instance string
	log      *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

type envelope struct {
	Instance string          `json:"instance"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
}

// NewBridge connects to Redis, registers itself on the hub, and starts the
// subscriber loop.
func NewBridge(hub *EventHub, redisURL, channel string, log *slog.Logger) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		hub:      hub,
		client:   client,
		channel:  channel,
		instance: uuid.New().String(),
		log:      log,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	hub.AddBroadcaster(b)
	go b.subscribe(loopCtx)
	return b, nil
}

// BroadcastEvent publishes a local hub event to the shared channel.
func (b *Bridge) BroadcastEvent(eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("event fanout: marshal payload", "event", eventType, "error", err)
		return
	}
	raw, err := json.Marshal(envelope{Instance: b.instance, Name: eventType, Payload: data})
	if err != nil {
		b.log.Warn("event fanout: marshal envelope", "event", eventType, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.log.Warn("event fanout: publish", "event", eventType, "error", err)
	}
}

func (b *Bridge) subscribe(ctx context.Context) {
	defer close(b.done)

	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("event fanout: bad envelope", "error", err)
				continue
			}
			if env.Instance == b.instance {
				continue
			}
			b.hub.EmitFrom(b, env.Name, env.Payload)
		}
	}
}

// Close stops the subscriber loop and releases the client.
func (b *Bridge) Close() error {
	b.cancel()
	select {
	case <-b.done:
	case <-time.After(2 * time.Second):
	}
	return b.client.Close()
}
