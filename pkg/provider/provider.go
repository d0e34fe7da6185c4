// Package provider is the app-facing side of the bridge: a request/response
// client over a wire endpoint that looks like a standard Ethereum provider.
// It correlates responses by id, replays wallet events to subscribers, and
// caches the announced chain and accounts so synchronous reads never hit
// the wire.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
	"github.com/glide-wallet/glide-wallet/pkg/wire"
)

// DefaultTimeout bounds how long a request may sit unanswered, covering a
// holder who walked away mid-prompt. The failure is synthesized locally and
// never appears on the wire.
const DefaultTimeout = 300 * time.Second

type outcome struct {
	result json.RawMessage
	err    *rpcerr.Error
}

// Provider is one attached app's handle to the wallet.
type Provider struct {
	endpoint wire.Endpoint
	timeout  time.Duration

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan outcome
	closed  bool
	done    chan struct{}

	stateMu   sync.RWMutex
	chainID   string
	accounts  []string
	connected bool

	obsMu     sync.Mutex
	nextObsID int64
	observers map[string][]observer
}

type observer struct {
	id      int64
	handler func(json.RawMessage)
}

// New attaches a provider to an endpoint with the default request timeout.
func New(endpoint wire.Endpoint) *Provider {
	return NewWithTimeout(endpoint, DefaultTimeout)
}

// NewWithTimeout attaches a provider with an explicit request timeout.
func NewWithTimeout(endpoint wire.Endpoint, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Provider{
		endpoint:  endpoint,
		timeout:   timeout,
		pending:   make(map[int64]chan outcome),
		done:      make(chan struct{}),
		observers: make(map[string][]observer),
	}
	go p.run()
	return p
}

// Request sends one method call and blocks until the wallet answers, the
// timeout passes, or ctx is canceled. The error, when present, is always a
// *rpcerr.Error except for context cancellation, which surfaces as ctx.Err().
func (p *Provider) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if method == "" {
		return nil, rpcerr.InvalidParams("method is required")
	}

	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, rpcerr.InvalidParams(fmt.Sprintf("encoding params: %v", err))
		}
		raw = encoded
	}

	id := p.nextID.Add(1)
	ch := make(chan outcome, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, rpcerr.ErrDisconnected
	}
	p.pending[id] = ch
	p.mu.Unlock()

	msg := wire.Message{Type: wire.TypeRequest, ID: id, Method: method, Params: raw}
	if err := p.endpoint.Send(msg); err != nil {
		p.unregister(id)
		return nil, rpcerr.ErrDisconnected
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	case <-timer.C:
		p.unregister(id)
		return nil, rpcerr.Timeout(method)
	case <-ctx.Done():
		p.unregister(id)
		return nil, ctx.Err()
	case <-p.done:
		return nil, rpcerr.ErrDisconnected
	}
}

// On subscribes to a wallet event type. Handlers run on the provider's read
// loop in subscription order; the returned function unsubscribes.
func (p *Provider) On(eventType string, handler func(payload json.RawMessage)) func() {
	p.obsMu.Lock()
	p.nextObsID++
	id := p.nextObsID
	p.observers[eventType] = append(p.observers[eventType], observer{id: id, handler: handler})
	p.obsMu.Unlock()

	return func() {
		p.obsMu.Lock()
		defer p.obsMu.Unlock()
		kept := p.observers[eventType][:0]
		for _, obs := range p.observers[eventType] {
			if obs.id != id {
				kept = append(kept, obs)
			}
		}
		p.observers[eventType] = kept
	}
}

// ChainID returns the last chain announced by the wallet, empty before the
// first connect or chainChanged event.
func (p *Provider) ChainID() string {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.chainID
}

// Accounts returns the last announced account list.
func (p *Provider) Accounts() []string {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	out := make([]string, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// Connected reports whether the wallet end is attached and serving.
func (p *Provider) Connected() bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.connected
}

// Close detaches from the endpoint. Every in-flight request fails with a
// disconnect error and a final disconnect event reaches subscribers.
func (p *Provider) Close() error {
	if !p.shutdown() {
		return nil
	}
	return p.endpoint.Close()
}

// shutdown moves the provider to its terminal state, reporting whether this
// call performed the transition.
func (p *Provider) shutdown() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	orphans := p.pending
	p.pending = make(map[int64]chan outcome)
	close(p.done)
	p.mu.Unlock()

	for _, ch := range orphans {
		ch <- outcome{err: rpcerr.ErrDisconnected}
	}

	p.stateMu.Lock()
	p.connected = false
	p.stateMu.Unlock()

	payload, _ := json.Marshal(rpcerr.ErrDisconnected)
	p.notify(wire.EventDisconnect, payload)
	return true
}

// run is the read loop: responses resolve their pending request, events
// update cached state and fan out to observers, anything else is dropped.
func (p *Provider) run() {
	for msg := range p.endpoint.Messages() {
		switch {
		case msg.IsEvent():
			p.handleEvent(*msg.Event)
		case msg.Type == wire.TypeResponse && msg.ID != 0:
			p.resolve(msg)
		}
	}
	// Transport gone: fail everything still waiting.
	p.shutdown()
}

// resolve delivers a response to its waiting request. Each id resolves at
// most once; late or unknown ids fall on the floor.
func (p *Provider) resolve(msg wire.Message) {
	p.mu.Lock()
	ch, ok := p.pending[msg.ID]
	if ok {
		delete(p.pending, msg.ID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if msg.Error != nil {
		ch <- outcome{err: msg.Error}
		return
	}
	ch <- outcome{result: msg.Result}
}

func (p *Provider) handleEvent(evt wire.Event) {
	switch evt.Type {
	case wire.EventConnect:
		var payload struct {
			ChainID string `json:"chainId"`
		}
		if err := json.Unmarshal(evt.Payload, &payload); err == nil && payload.ChainID != "" {
			p.stateMu.Lock()
			p.chainID = payload.ChainID
			p.connected = true
			p.stateMu.Unlock()
		}

	case wire.EventChainChanged:
		var chainID string
		if err := json.Unmarshal(evt.Payload, &chainID); err == nil && chainID != "" {
			p.stateMu.Lock()
			p.chainID = chainID
			p.stateMu.Unlock()
		}

	case wire.EventAccountsChanged:
		var accounts []string
		if err := json.Unmarshal(evt.Payload, &accounts); err == nil {
			p.stateMu.Lock()
			p.accounts = accounts
			p.stateMu.Unlock()
		}

	case wire.EventDisconnect:
		p.stateMu.Lock()
		p.connected = false
		p.stateMu.Unlock()
	}

	p.notify(evt.Type, evt.Payload)
}

func (p *Provider) notify(eventType string, payload json.RawMessage) {
	p.obsMu.Lock()
	observers := make([]observer, len(p.observers[eventType]))
	copy(observers, p.observers[eventType])
	p.obsMu.Unlock()

	for _, obs := range observers {
		obs.handler(payload)
	}
}

func (p *Provider) unregister(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}
