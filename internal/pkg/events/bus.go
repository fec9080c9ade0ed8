package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// ChannelSyncRefresh carries integration config change notifications.
const ChannelSyncRefresh = "sync.refresh"

const EventConfigChanged = "config_changed"

// Message is the body published on ChannelSyncRefresh
type Message struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Bus publishes and consumes refresh notifications over redis pub/sub.
// Every process subscribed to the channel reloads its schedules.
type Bus struct {
	client *redis.Client
	now    func() time.Time
}

// NewBus creates a bus on client
func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client, now: time.Now}
}

// PublishConfigChanged announces that some company's integration config changed.
func (b *Bus) PublishConfigChanged(ctx context.Context) error {
	body, err := json.Marshal(Message{Event: EventConfigChanged, At: b.now().UTC()})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, ChannelSyncRefresh, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ChannelSyncRefresh, err)
	}
	log.Debugf("[Events] Published %s on %s", EventConfigChanged, ChannelSyncRefresh)
	return nil
}

// SubscribeConfigChanged calls fn for every config change notification until ctx
// is cancelled. It returns once the subscription is confirmed by redis.
func (b *Bus) SubscribeConfigChanged(ctx context.Context, fn func(ctx context.Context)) error {
	pubsub := b.client.Subscribe(ctx, ChannelSyncRefresh)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", ChannelSyncRefresh, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					log.Warnf("[Events] Ignoring malformed message on %s: %v", msg.Channel, err)
					continue
				}
				if m.Event != EventConfigChanged {
					continue
				}
				log.Infof("[Events] Config change received, refreshing")
				fn(ctx)
			}
		}
	}()

	log.Infof("[Events] Subscribed to %s", ChannelSyncRefresh)
	return nil
}
