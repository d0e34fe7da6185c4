package session

import (
	"encoding/json"
	"time"

	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
)

// Relay-protocol methods exchanged on pairing and session topics. Every
// payload is a JSON-RPC 2.0 message sealed inside an envelope.
const (
	methodSessionPropose = "wc_sessionPropose"
	methodSessionSettle  = "wc_sessionSettle"
	methodSessionRequest = "wc_sessionRequest"
	methodSessionEvent   = "wc_sessionEvent"
	methodSessionDelete  = "wc_sessionDelete"
	methodSessionPing    = "wc_sessionPing"
)

// Relay message tags. The relay uses them for mailbox retention policy;
// participants use them to classify messages without decrypting.
const (
	tagSessionPropose      int64 = 1100
	tagSessionProposeReply int64 = 1101
	tagSessionSettle       int64 = 1102
	tagSessionSettleReply  int64 = 1103
	tagSessionRequest      int64 = 1108
	tagSessionRequestReply int64 = 1109
	tagSessionEvent        int64 = 1110
	tagSessionDelete       int64 = 1112
	tagSessionDeleteReply  int64 = 1113
	tagSessionPing         int64 = 1114
	tagSessionPingReply    int64 = 1115
)

const (
	// envelopeTTL bounds how long the relay holds an undelivered request,
	// response, or event.
	envelopeTTL = 5 * time.Minute
	// deleteTTL keeps a session deletion deliverable long enough for an
	// offline peer to learn about it.
	deleteTTL = 24 * time.Hour
	// sessionTTL is how long an approved session stays valid.
	sessionTTL = 7 * 24 * time.Hour
)

// rpcMessage is the JSON-RPC 2.0 payload inside an envelope. Requests carry
// Method and Params; responses carry Result or Error under the request's id.
type rpcMessage struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcerr.Error   `json:"error,omitempty"`
}

func newRPCRequest(id int64, method string, params any) (rpcMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return rpcMessage{}, err
	}
	return rpcMessage{ID: id, JSONRPC: "2.0", Method: method, Params: raw}, nil
}

func newRPCResult(id int64, result any) (rpcMessage, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return rpcMessage{}, err
	}
	return rpcMessage{ID: id, JSONRPC: "2.0", Result: raw}, nil
}

func newRPCError(id int64, rpcErr *rpcerr.Error) rpcMessage {
	return rpcMessage{ID: id, JSONRPC: "2.0", Error: rpcErr}
}

// Metadata identifies a session participant to the human on the other side.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

type relayInfo struct {
	Protocol string `json:"protocol"`
}

type participant struct {
	PublicKey string   `json:"publicKey"`
	Metadata  Metadata `json:"metadata"`
}

// proposeParams is the body of wc_sessionPropose, published by the dApp on
// the pairing topic.
type proposeParams struct {
	Relays             []relayInfo `json:"relays"`
	Proposer           participant `json:"proposer"`
	RequiredNamespaces Namespaces  `json:"requiredNamespaces"`
	OptionalNamespaces Namespaces  `json:"optionalNamespaces,omitempty"`
}

// proposeResult answers an approved proposal: it tells the dApp which key to
// run the agreement against so both sides arrive at the session topic.
type proposeResult struct {
	Relay              relayInfo `json:"relay"`
	ResponderPublicKey string    `json:"responderPublicKey"`
}

// settleParams is the body of wc_sessionSettle, published by the wallet on
// the freshly derived session topic.
type settleParams struct {
	Relay      relayInfo   `json:"relay"`
	Controller participant `json:"controller"`
	Namespaces Namespaces  `json:"namespaces"`
	Expiry     int64       `json:"expiry"`
}

// requestParams is the body of wc_sessionRequest: one provider call plus the
// chain it targets.
type requestParams struct {
	Request struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	} `json:"request"`
	ChainID string `json:"chainId"`
}

// eventParams is the body of wc_sessionEvent, pushed by the wallet when
// provider state the session can observe changes.
type eventParams struct {
	Event struct {
		Name string `json:"name"`
		Data any    `json:"data"`
	} `json:"event"`
	ChainID string `json:"chainId"`
}

// deleteParams is the body of wc_sessionDelete, sent by whichever side tears
// the session down.
type deleteParams struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
