// Package approval is the human arbitration point for anything the wallet
// must not do silently. Every ticket suspends its request until the holder
// decides; at most one ticket is visible at a time because simultaneous
// competing prompts are a phishing vector.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what the holder is being asked to authorize.
type Kind string

const (
	KindTransaction   Kind = "transaction"
	KindSign          Kind = "sign"
	KindSignTypedData Kind = "signTypedData"
	KindNetworkSwitch Kind = "networkSwitch"
)

// Display is the data contract of the approval prompt: everything the
// presentation layer may render, already humanized. Only fields relevant to
// the ticket kind are set.
type Display struct {
	Origin      string `json:"origin,omitempty"`
	ChainName   string `json:"chainName,omitempty"`
	Message     string `json:"message,omitempty"`
	RawMessage  string `json:"rawMessage,omitempty"`
	To          string `json:"to,omitempty"`
	Value       string `json:"value,omitempty"`
	DomainName  string `json:"domainName,omitempty"`
	PrimaryType string `json:"primaryType,omitempty"`
	FromChain   string `json:"fromChain,omitempty"`
	ToChain     string `json:"toChain,omitempty"`
}

// Ticket is one pending question to the holder.
type Ticket struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Display   Display   `json:"display"`
	CreatedAt time.Time `json:"createdAt"`

	decision chan bool
}

// NewTicket builds a ticket with a fresh correlation id.
func NewTicket(kind Kind, display Display) *Ticket {
	return &Ticket{
		ID:        uuid.New(),
		Kind:      kind,
		Display:   display,
		CreatedAt: time.Now(),
		decision:  make(chan bool, 1),
	}
}

var (
	// ErrGateClosed is returned once the gate has been shut down.
	ErrGateClosed = errors.New("approval: gate is closed")
	// ErrNotOpen is returned when deciding a ticket that is still queued
	// behind the open one.
	ErrNotOpen = errors.New("approval: ticket is not the open ticket")
	// ErrUnknownTicket is returned when deciding a ticket the gate does not
	// hold, including one already decided.
	ErrUnknownTicket = errors.New("approval: unknown ticket")
)

// Gate serializes human decisions. Arbitration is strict FIFO: a ticket
// arriving while another is open waits its turn rather than being rejected
// with a busy error; the queue head is the single open ticket and the only
// one the presentation layer sees or may decide.
type Gate struct {
	mu       sync.Mutex
	queue    []*Ticket
	closed   bool
	onChange func(open *Ticket, queued int)
}

// NewGate creates a gate. onChange, when non-nil, is invoked after every
// visible state transition with the currently open ticket (nil when idle)
// and the queue depth; it must not call back into the gate.
func NewGate(onChange func(open *Ticket, queued int)) *Gate {
	return &Gate{onChange: onChange}
}

// Request enqueues a ticket and blocks until the holder decides or ctx is
// canceled. Cancellation resolves the ticket to false: a request whose
// channel died is treated as rejected, never left pending.
func (g *Gate) Request(ctx context.Context, t *Ticket) (bool, error) {
	if t.decision == nil {
		t.decision = make(chan bool, 1)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false, ErrGateClosed
	}
	g.queue = append(g.queue, t)
	g.mu.Unlock()
	g.notifyChange()

	select {
	case approved := <-t.decision:
		return approved, nil
	case <-ctx.Done():
		if !g.remove(t) {
			// Decided concurrently with cancellation; honor the decision.
			select {
			case approved := <-t.decision:
				return approved, nil
			default:
			}
		}
		g.notifyChange()
		return false, nil
	}
}

// Open returns the ticket currently awaiting a decision.
func (g *Gate) Open() (*Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return nil, false
	}
	return g.queue[0], true
}

// Depth returns the number of undecided tickets, the open one included.
func (g *Gate) Depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Decide resolves the open ticket. Exactly one decision per ticket: a
// second call for the same id fails with ErrUnknownTicket, and a queued
// ticket cannot be decided out of turn.
func (g *Gate) Decide(id uuid.UUID, approved bool) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGateClosed
	}
	if len(g.queue) == 0 {
		g.mu.Unlock()
		return ErrUnknownTicket
	}
	open := g.queue[0]
	if open.ID != id {
		for _, t := range g.queue[1:] {
			if t.ID == id {
				g.mu.Unlock()
				return ErrNotOpen
			}
		}
		g.mu.Unlock()
		return ErrUnknownTicket
	}
	g.queue = g.queue[1:]
	g.mu.Unlock()

	open.decision <- approved
	g.notifyChange()
	return nil
}

// Close rejects every held ticket and refuses new ones.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	drained := g.queue
	g.queue = nil
	g.mu.Unlock()

	for _, t := range drained {
		t.decision <- false
	}
	g.notifyChange()
}

// remove unlinks a ticket, reporting whether it was still held.
func (g *Gate) remove(t *Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, held := range g.queue {
		if held == t {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Gate) notifyChange() {
	if g.onChange == nil {
		return
	}
	g.mu.Lock()
	var open *Ticket
	if len(g.queue) > 0 {
		open = g.queue[0]
	}
	queued := len(g.queue)
	g.mu.Unlock()
	g.onChange(open, queued)
}
