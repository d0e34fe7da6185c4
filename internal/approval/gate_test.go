package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTicket(t *testing.T) {
	ticket := NewTicket(KindSign, Display{Message: "Hello", Origin: "https://dapp.example"})

	assert.NotEqual(t, uuid.Nil, ticket.ID)
	assert.Equal(t, KindSign, ticket.Kind)
	assert.Equal(t, "Hello", ticket.Display.Message)
	assert.False(t, ticket.CreatedAt.IsZero())
}

func TestGate_ApproveAndReject(t *testing.T) {
	tests := []struct {
		name     string
		decision bool
	}{
		{name: "approval resolves true", decision: true},
		{name: "rejection resolves false", decision: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(nil)
			ticket := NewTicket(KindTransaction, Display{To: "0xabc", Value: "0.0015 ETH"})

			result := make(chan bool, 1)
			go func() {
				approved, err := gate.Request(context.Background(), ticket)
				assert.NoError(t, err)
				result <- approved
			}()

			require.Eventually(t, func() bool {
				open, ok := gate.Open()
				return ok && open.ID == ticket.ID
			}, time.Second, 5*time.Millisecond)

			require.NoError(t, gate.Decide(ticket.ID, tt.decision))

			select {
			case approved := <-result:
				assert.Equal(t, tt.decision, approved)
			case <-time.After(time.Second):
				t.Fatal("request did not resolve")
			}

			_, ok := gate.Open()
			assert.False(t, ok, "gate should be idle after the decision")
		})
	}
}

func TestGate_FIFOOrdering(t *testing.T) {
	gate := NewGate(nil)
	first := NewTicket(KindSign, Display{Message: "first"})
	second := NewTicket(KindSign, Display{Message: "second"})

	firstResult := make(chan bool, 1)
	go func() {
		approved, err := gate.Request(context.Background(), first)
		assert.NoError(t, err)
		firstResult <- approved
	}()
	require.Eventually(t, func() bool { return gate.Depth() == 1 }, time.Second, 5*time.Millisecond)

	secondResult := make(chan bool, 1)
	go func() {
		approved, err := gate.Request(context.Background(), second)
		assert.NoError(t, err)
		secondResult <- approved
	}()
	require.Eventually(t, func() bool { return gate.Depth() == 2 }, time.Second, 5*time.Millisecond)

	// Only the queue head is open; the later ticket cannot be decided yet.
	open, ok := gate.Open()
	require.True(t, ok)
	assert.Equal(t, first.ID, open.ID)
	assert.ErrorIs(t, gate.Decide(second.ID, true), ErrNotOpen)

	require.NoError(t, gate.Decide(first.ID, true))
	assert.True(t, <-firstResult)

	// The second ticket is promoted, never lost and never opened early.
	require.Eventually(t, func() bool {
		open, ok := gate.Open()
		return ok && open.ID == second.ID
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, gate.Decide(second.ID, false))
	assert.False(t, <-secondResult)
}

func TestGate_SingleOpenTicket(t *testing.T) {
	gate := NewGate(nil)

	const n = 5
	tickets := make([]*Ticket, n)
	for i := range tickets {
		tickets[i] = NewTicket(KindSign, Display{})
		go func(ticket *Ticket) {
			_, err := gate.Request(context.Background(), ticket)
			assert.NoError(t, err)
		}(tickets[i])
	}
	require.Eventually(t, func() bool { return gate.Depth() == n }, time.Second, 5*time.Millisecond)

	// However many requests race in, exactly one ticket is open.
	seen := make(map[uuid.UUID]bool)
	for gate.Depth() > 0 {
		open, ok := gate.Open()
		require.True(t, ok)
		assert.False(t, seen[open.ID], "ticket %s opened twice", open.ID)
		seen[open.ID] = true
		require.NoError(t, gate.Decide(open.ID, false))
	}
	assert.Len(t, seen, n)
}

func TestGate_ContextCancellation(t *testing.T) {
	gate := NewGate(nil)
	ctx, cancel := context.WithCancel(context.Background())

	doomed := NewTicket(KindTransaction, Display{})
	result := make(chan bool, 1)
	go func() {
		approved, err := gate.Request(ctx, doomed)
		assert.NoError(t, err)
		result <- approved
	}()
	require.Eventually(t, func() bool { return gate.Depth() == 1 }, time.Second, 5*time.Millisecond)

	survivor := NewTicket(KindSign, Display{})
	go func() {
		_, err := gate.Request(context.Background(), survivor)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return gate.Depth() == 2 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case approved := <-result:
		assert.False(t, approved, "a canceled ticket resolves to rejection")
	case <-time.After(time.Second):
		t.Fatal("canceled request did not resolve")
	}

	// The unrelated ticket is promoted, not torn down.
	require.Eventually(t, func() bool {
		open, ok := gate.Open()
		return ok && open.ID == survivor.ID
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, gate.Decide(survivor.ID, true))
}

func TestGate_DecisionIsTerminal(t *testing.T) {
	gate := NewGate(nil)
	ticket := NewTicket(KindSign, Display{})

	go func() {
		_, err := gate.Request(context.Background(), ticket)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return gate.Depth() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, gate.Decide(ticket.ID, true))
	assert.ErrorIs(t, gate.Decide(ticket.ID, false), ErrUnknownTicket)
}

func TestGate_DecideUnknownTicket(t *testing.T) {
	gate := NewGate(nil)
	assert.ErrorIs(t, gate.Decide(uuid.New(), true), ErrUnknownTicket)
}

func TestGate_Close(t *testing.T) {
	gate := NewGate(nil)

	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		go func() {
			approved, err := gate.Request(context.Background(), NewTicket(KindSign, Display{}))
			assert.NoError(t, err)
			results <- approved
		}()
	}
	require.Eventually(t, func() bool { return gate.Depth() == 3 }, time.Second, 5*time.Millisecond)

	gate.Close()

	for i := 0; i < 3; i++ {
		select {
		case approved := <-results:
			assert.False(t, approved, "closing the gate rejects every held ticket")
		case <-time.After(time.Second):
			t.Fatal("ticket left pending after close")
		}
	}

	_, err := gate.Request(context.Background(), NewTicket(KindSign, Display{}))
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.ErrorIs(t, gate.Decide(uuid.New(), true), ErrGateClosed)

	// Idempotent.
	gate.Close()
}

func TestGate_OnChange(t *testing.T) {
	var mu sync.Mutex
	var depths []int
	gate := NewGate(func(open *Ticket, queued int) {
		mu.Lock()
		depths = append(depths, queued)
		mu.Unlock()
	})

	ticket := NewTicket(KindNetworkSwitch, Display{FromChain: "Ethereum Mainnet", ToChain: "Polygon"})
	go func() {
		_, err := gate.Request(context.Background(), ticket)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(depths) >= 1 && depths[0] == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, gate.Decide(ticket.ID, true))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(depths) >= 2 && depths[len(depths)-1] == 0
	}, time.Second, 5*time.Millisecond)
}
