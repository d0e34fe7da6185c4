package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Memory is an in-process relay. Both sides of a pairing must live in this
// process, which is exactly the test and embedded-webview setup; there is
// no mailbox, so a message published before the peer subscribes is gone.
type Memory struct {
	pubSub *gochannel.GoChannel
	out    chan Inbound
	done   chan struct{}

	mu     sync.Mutex
	topics map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

type memoryPayload struct {
	Message string `json:"message"`
	Tag     int64  `json:"tag"`
}

// NewMemory creates an in-process relay.
func NewMemory() *Memory {
	return &Memory{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		out:    make(chan Inbound, 64),
		done:   make(chan struct{}),
		topics: make(map[string]context.CancelFunc),
	}
}

// Subscribe starts delivery for the topic.
func (m *Memory) Subscribe(ctx context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("relay: closed")
	}
	if _, ok := m.topics[topic]; ok {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := m.pubSub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return fmt.Errorf("relay: subscribing %s: %w", topic, err)
	}
	m.topics[topic] = cancel

	m.wg.Add(1)
	go m.pump(topic, messages)
	return nil
}

// Unsubscribe stops delivery for the topic.
func (m *Memory) Unsubscribe(_ context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.topics[topic]; ok {
		cancel()
		delete(m.topics, topic)
	}
	return nil
}

// Publish delivers to current subscribers of the topic. The ttl is
// meaningless in-process and ignored.
func (m *Memory) Publish(_ context.Context, topic, msg string, tag int64, _ time.Duration) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return fmt.Errorf("relay: closed")
	}

	body, err := json.Marshal(memoryPayload{Message: msg, Tag: tag})
	if err != nil {
		return fmt.Errorf("relay: marshaling payload: %w", err)
	}
	if err := m.pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), body)); err != nil {
		return fmt.Errorf("relay: publishing to %s: %w", topic, err)
	}
	return nil
}

// Messages returns the delivery stream.
func (m *Memory) Messages() <-chan Inbound {
	return m.out
}

// Close stops every subscription and closes the delivery stream.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for topic, cancel := range m.topics {
		cancel()
		delete(m.topics, topic)
	}
	m.mu.Unlock()

	close(m.done)
	err := m.pubSub.Close()
	m.wg.Wait()
	close(m.out)
	return err
}

func (m *Memory) pump(topic string, messages <-chan *message.Message) {
	defer m.wg.Done()
	for msg := range messages {
		var payload memoryPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			msg.Ack()
			continue
		}
		msg.Ack()
		select {
		case m.out <- Inbound{Topic: topic, Message: payload.Message, Tag: payload.Tag}:
		case <-m.done:
			return
		}
	}
}
