package wire

import "sync"

// Endpoint is one side of a duplex envelope channel. The Messages channel
// closes when the endpoint closes, from either side.
type Endpoint interface {
	Send(Message) error
	Messages() <-chan Message
	Close() error
}

const pipeBuffer = 16

// PipeEndpoint is an in-process Endpoint half. It backs the native-bridge
// transport form, where both sides live in one process and only function
// calls cross the boundary.
type PipeEndpoint struct {
	send chan Message
	recv chan Message
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected endpoints. Envelopes sent on one side arrive on
// the other side's Messages channel in order. Closing either side closes
// both.
func Pipe() (*PipeEndpoint, *PipeEndpoint) {
	aToB := make(chan Message, pipeBuffer)
	bToA := make(chan Message, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &PipeEndpoint{
		send: aToB,
		recv: make(chan Message, pipeBuffer),
		done: done,
		once: once,
	}
	b := &PipeEndpoint{
		send: bToA,
		recv: make(chan Message, pipeBuffer),
		done: done,
		once: once,
	}

	go pump(aToB, b.recv, done)
	go pump(bToA, a.recv, done)

	return a, b
}

func pump(in <-chan Message, out chan<- Message, done <-chan struct{}) {
	defer close(out)
	for {
		select {
		case <-done:
			return
		case msg := <-in:
			select {
			case out <- msg:
			case <-done:
				return
			}
		}
	}
}

// Send delivers one envelope to the peer.
func (p *PipeEndpoint) Send(msg Message) error {
	select {
	case <-p.done:
		return ErrClosed
	case p.send <- msg:
		return nil
	}
}

// Messages returns the inbound envelope channel. It closes when the pipe
// closes.
func (p *PipeEndpoint) Messages() <-chan Message {
	return p.recv
}

// Close tears the pipe down for both sides. Safe to call more than once.
func (p *PipeEndpoint) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
