package bridge

import (
	"sync"

	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/pkg/wire"
)

// NativeChannel adapts a callback-style embedding boundary to the wire
// endpoint contract. An embedded web view cannot hold a socket to its own
// host process; it exposes a post function for outbound bytes and calls
// Receive with whatever the page sends. Only function calls cross the
// boundary.
type NativeChannel struct {
	post   func(payload []byte)
	intake chan wire.Message
	in     chan wire.Message
	done   chan struct{}
	once   sync.Once
}

// NewNativeChannel wraps the embedder's post callback. The callback is
// invoked on the sender's goroutine and must not block.
func NewNativeChannel(post func(payload []byte)) *NativeChannel {
	c := &NativeChannel{
		post:   post,
		intake: make(chan wire.Message, 16),
		in:     make(chan wire.Message, 16),
		done:   make(chan struct{}),
	}
	go c.pump()
	return c
}

// pump moves injected envelopes to the Messages channel and closes it on
// teardown, which is what tells the host read loop the channel died.
func (c *NativeChannel) pump() {
	defer close(c.in)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.intake:
			select {
			case c.in <- msg:
			case <-c.done:
				return
			}
		}
	}
}

// Send encodes one envelope and hands it to the embedder.
func (c *NativeChannel) Send(msg wire.Message) error {
	select {
	case <-c.done:
		return wire.ErrClosed
	default:
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.post(data)
	return nil
}

// Receive injects one frame arriving from the embedded page. Frames that do
// not decode into envelopes are logged and dropped; the channel survives.
func (c *NativeChannel) Receive(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		logger.Component("bridge").Debug("dropping undecodable frame", "error", err)
		return
	}

	select {
	case c.intake <- msg:
	case <-c.done:
	}
}

// Messages returns the inbound envelope stream. It closes when the channel
// closes.
func (c *NativeChannel) Messages() <-chan wire.Message {
	return c.in
}

// Close shuts the channel down. Safe to call more than once.
func (c *NativeChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
