package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/pkg/wire"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxMessage = 1 << 20
)

// WSEndpoint adapts a websocket connection to the wire endpoint contract.
// Every write funnels through one pump because the underlying connection
// allows a single concurrent writer.
type WSEndpoint struct {
	conn *websocket.Conn
	out  chan wire.Message
	in   chan wire.Message
	done chan struct{}
	once sync.Once
}

// NewWSEndpoint adopts an already-upgraded connection. Frames that do not
// decode into envelopes are logged and dropped; the connection survives.
func NewWSEndpoint(conn *websocket.Conn) *WSEndpoint {
	e := &WSEndpoint{
		conn: conn,
		out:  make(chan wire.Message, 16),
		in:   make(chan wire.Message, 16),
		done: make(chan struct{}),
	}
	go e.readPump()
	go e.writePump()
	return e
}

// Send queues one envelope for delivery.
func (e *WSEndpoint) Send(msg wire.Message) error {
	select {
	case e.out <- msg:
		return nil
	case <-e.done:
		return wire.ErrClosed
	}
}

// Messages returns the inbound envelope stream. It closes when the
// connection dies.
func (e *WSEndpoint) Messages() <-chan wire.Message {
	return e.in
}

// Close shuts the endpoint down. Safe to call more than once.
func (e *WSEndpoint) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

func (e *WSEndpoint) readPump() {
	defer close(e.in)

	e.conn.SetReadLimit(wsMaxMessage)
	_ = e.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	e.conn.SetPongHandler(func(string) error {
		return e.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	log := logger.Component("bridge")
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", "error", err)
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			log.Debug("dropping undecodable frame", "error", err)
			continue
		}

		select {
		case e.in <- msg:
		case <-e.done:
			return
		}
	}
}

func (e *WSEndpoint) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer func() { _ = e.conn.Close() }()

	for {
		select {
		case msg := <-e.out:
			data, err := msg.Encode()
			if err != nil {
				continue
			}
			_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = e.Close()
				return
			}

		case <-ticker.C:
			_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = e.Close()
				return
			}

		case <-e.done:
			_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = e.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
