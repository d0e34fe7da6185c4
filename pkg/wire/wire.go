// Package wire defines the bridge envelope exchanged between an untrusted
// page and the trusted host. Field names are part of the protocol: both sides
// must agree without a negotiation step.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
)

// Envelope types
const (
	TypeRequest  = "REQUEST"
	TypeResponse = "RESPONSE"
)

// Event types carried in the envelope's event object
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventChainChanged    = "chainChanged"
	EventAccountsChanged = "accountsChanged"
)

// ErrClosed is returned by Send on a closed endpoint.
var ErrClosed = errors.New("wire: endpoint closed")

// Message is one wire envelope. Request ids start at 1, so a zero ID means
// the envelope carries no id; a RESPONSE without an id must carry an event
// instead (events share the response channel).
type Message struct {
	Type   string          `json:"type"`
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcerr.Error   `json:"error,omitempty"`
	Event  *Event          `json:"event,omitempty"`
}

// Event is an out-of-band notification pushed from host to page.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsEvent reports whether the envelope dispatches to event listeners rather
// than resolving a pending request.
func (m Message) IsEvent() bool {
	return m.Event != nil
}

// NewRequest builds a REQUEST envelope with marshaled params.
func NewRequest(id int64, method string, params any) (Message, error) {
	msg := Message{Type: TypeRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("marshaling params for %s: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// NewResponse builds a successful RESPONSE envelope for the given request id.
func NewResponse(id int64, result any) (Message, error) {
	msg := Message{Type: TypeResponse, ID: id}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return Message{}, fmt.Errorf("marshaling result for id %d: %w", id, err)
		}
		msg.Result = raw
	}
	return msg, nil
}

// NewErrorResponse builds a failed RESPONSE envelope for the given request id.
func NewErrorResponse(id int64, rpcErr *rpcerr.Error) Message {
	return Message{Type: TypeResponse, ID: id, Error: rpcErr}
}

// NewEvent builds an id-less RESPONSE envelope carrying an event.
func NewEvent(eventType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	return Message{Type: TypeResponse, Event: &Event{Type: eventType, Payload: raw}}, nil
}

// Decode parses and validates one envelope. Consumers log and drop the error
// case; a malformed envelope never takes the transport down.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding envelope: %w", err)
	}
	switch msg.Type {
	case TypeRequest:
		if msg.ID == 0 {
			return Message{}, errors.New("request envelope missing id")
		}
		if msg.Method == "" {
			return Message{}, errors.New("request envelope missing method")
		}
	case TypeResponse:
		if msg.ID == 0 && msg.Event == nil {
			return Message{}, errors.New("response envelope carries neither id nor event")
		}
	default:
		return Message{}, fmt.Errorf("unknown envelope type %q", msg.Type)
	}
	return msg, nil
}

// Encode serializes one envelope.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}
