// Package relay moves sealed session envelopes between the wallet and
// remote peers. Payloads are opaque here: sealing and unsealing belong to
// the session layer, the relay only routes ciphertext by topic.
package relay

import (
	"context"
	"time"
)

// Inbound is one message delivered on a subscribed topic.
type Inbound struct {
	Topic   string
	Message string
	Tag     int64
}

// Relay is the transport the session manager speaks. Implementations: an
// in-process relay for tests and single-host setups, and a websocket client
// for the public relay network.
type Relay interface {
	// Subscribe starts delivery for a topic. Subscribing twice is a no-op.
	Subscribe(ctx context.Context, topic string) error
	// Unsubscribe stops delivery for a topic.
	Unsubscribe(ctx context.Context, topic string) error
	// Publish sends a sealed message to whoever holds the topic. The ttl
	// bounds how long the relay may hold it for an offline peer; the tag
	// names the protocol message kind for relay-side routing.
	Publish(ctx context.Context, topic, message string, tag int64, ttl time.Duration) error
	// Messages returns the delivery stream for every subscribed topic.
	Messages() <-chan Inbound
	// Close tears the relay connection down.
	Close() error
}
