// Package bridge is the trusted half of the page boundary. It owns every
// attached channel, feeds their requests through the wallet, and pushes
// wallet events back out. A channel is untrusted input end to end: garbage
// is dropped, never fatal.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glide-wallet/glide-wallet/internal/chains"
	"github.com/glide-wallet/glide-wallet/internal/events"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/metrics"
	"github.com/glide-wallet/glide-wallet/internal/router"
	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
	"github.com/glide-wallet/glide-wallet/pkg/wire"
)

// Handler is the wallet surface the bridge drives. Satisfied by
// *router.Router.
type Handler interface {
	Handle(ctx context.Context, call router.Call) (any, error)
	ActiveChain() int64
}

// Host multiplexes attached channels onto one wallet.
type Host struct {
	handler Handler
	bus     *events.Bus
	metrics *metrics.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	closed   bool
	nextID   int64
	channels map[int64]*channel
	wg       sync.WaitGroup
}

type channel struct {
	id       int64
	origin   router.Origin
	endpoint wire.Endpoint
	cancel   context.CancelFunc
}

// NewHost creates a host in front of the given wallet handler.
func NewHost(handler Handler, bus *events.Bus, m *metrics.Metrics) *Host {
	return &Host{
		handler:  handler,
		bus:      bus,
		metrics:  m,
		log:      logger.Component("bridge"),
		channels: make(map[int64]*channel),
	}
}

// Attach adopts an endpoint as a live channel. The page side immediately
// receives a connect event naming the active chain, then gets every wallet
// event until the channel dies. Requests on the channel run concurrently;
// a stalled approval never blocks the next request.
func (h *Host) Attach(endpoint wire.Endpoint, origin router.Origin) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("bridge: host is closed")
	}
	h.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{id: h.nextID, origin: origin, endpoint: endpoint, cancel: cancel}
	h.channels[ch.id] = ch
	h.mu.Unlock()

	h.metrics.BridgeChannelOpened()
	h.log.Info("channel attached", "channel", ch.id, "transport", origin.Transport, "origin", origin.Name)

	connect, err := wire.NewEvent(wire.EventConnect, map[string]string{
		"chainId": chains.FormatChainID(h.handler.ActiveChain()),
	})
	if err == nil {
		if err := endpoint.Send(connect); err != nil {
			h.detach(ch)
			return fmt.Errorf("bridge: announcing connect: %w", err)
		}
	}

	// Subscribe before returning so no event published after Attach is lost.
	eventsCh, err := h.bus.Subscribe(ctx)
	if err != nil {
		h.detach(ch)
		return fmt.Errorf("bridge: subscribing channel to events: %w", err)
	}

	h.wg.Add(2)
	go h.forwardEvents(ch, eventsCh)
	go h.readLoop(ctx, ch)
	return nil
}

// AttachNative wires an in-process page, returning the endpoint the page
// drives. Embedded webviews and tests use this instead of a socket.
func (h *Host) AttachNative(name string) (wire.Endpoint, error) {
	page, host := wire.Pipe()
	if err := h.Attach(host, router.Origin{Transport: "native", Name: name}); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// ChannelCount returns the number of live channels.
func (h *Host) ChannelCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

// Close tears down every channel and waits for in-flight work to drain.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	channels := make([]*channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		ch.cancel()
		_ = ch.endpoint.Close()
	}
	h.wg.Wait()
}

// readLoop consumes one channel's requests until the endpoint dies.
func (h *Host) readLoop(ctx context.Context, ch *channel) {
	defer h.wg.Done()
	defer h.detach(ch)

	for msg := range ch.endpoint.Messages() {
		if msg.Type != wire.TypeRequest || msg.ID == 0 || msg.Method == "" {
			h.log.Debug("dropping malformed envelope", "channel", ch.id, "type", msg.Type, "id", msg.ID)
			continue
		}

		h.wg.Add(1)
		go h.serve(ctx, ch, msg)
	}
}

// serve runs one request to completion and writes exactly one response.
func (h *Host) serve(ctx context.Context, ch *channel, msg wire.Message) {
	defer h.wg.Done()

	ctx = logger.WithRequestID(ctx, fmt.Sprintf("%d-%d", ch.id, msg.ID))
	result, err := h.handler.Handle(ctx, router.Call{
		Method: msg.Method,
		Params: msg.Params,
		Origin: ch.origin,
	})

	var reply wire.Message
	if err != nil {
		reply = wire.NewErrorResponse(msg.ID, rpcerr.FromError(err))
	} else {
		reply, err = wire.NewResponse(msg.ID, result)
		if err != nil {
			reply = wire.NewErrorResponse(msg.ID, rpcerr.Internal(err))
		}
	}

	if err := ch.endpoint.Send(reply); err != nil {
		h.log.Debug("response dropped, channel gone", "channel", ch.id, "id", msg.ID)
	}
}

// forwardEvents pushes wallet events to one channel until it dies.
func (h *Host) forwardEvents(ch *channel, eventsCh <-chan events.Event) {
	defer h.wg.Done()

	for evt := range eventsCh {
		msg := wire.Message{
			Type:  wire.TypeResponse,
			Event: &wire.Event{Type: evt.Type, Payload: evt.Payload},
		}
		if err := ch.endpoint.Send(msg); err != nil {
			return
		}
	}
}

// detach removes a channel. Idempotent: the read loop and Close may race
// here.
func (h *Host) detach(ch *channel) {
	h.mu.Lock()
	_, held := h.channels[ch.id]
	if held {
		delete(h.channels, ch.id)
	}
	h.mu.Unlock()
	if !held {
		return
	}

	ch.cancel()
	_ = ch.endpoint.Close()
	h.metrics.BridgeChannelClosed()
	h.log.Info("channel detached", "channel", ch.id, "origin", ch.origin.Name)
}
