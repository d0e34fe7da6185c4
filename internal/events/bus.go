// Package events fans provider notifications out to every attached
// transport. Emitters publish without knowing who is listening; each bridge
// channel and the session manager hold their own subscriptions.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// TopicProvider carries provider lifecycle events: chainChanged,
// accountsChanged, connect, disconnect.
const TopicProvider = "provider.events"

// Event is one provider notification as carried on the bus.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Bus is the in-process pub/sub for provider events.
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus creates the bus.
func NewBus() *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
	}
}

// Publish emits one provider event to every current subscriber.
func (b *Bus) Publish(eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	body, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", eventType, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	if err := b.pubSub.Publish(TopicProvider, msg); err != nil {
		return fmt.Errorf("publishing %s: %w", eventType, err)
	}
	return nil
}

// Subscribe returns a channel of provider events. The channel closes when
// ctx is canceled or the bus shuts down. A slow consumer stalls only its own
// subscription.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, TopicProvider)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", TopicProvider, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down, closing every subscription.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
