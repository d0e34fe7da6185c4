package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, msg Message)
	}{
		{
			name: "request",
			raw:  `{"type":"REQUEST","id":7,"method":"personal_sign","params":["0x48656c6c6f","0xabc"]}`,
			check: func(t *testing.T, msg Message) {
				assert.Equal(t, TypeRequest, msg.Type)
				assert.Equal(t, int64(7), msg.ID)
				assert.Equal(t, "personal_sign", msg.Method)
				assert.False(t, msg.IsEvent())
			},
		},
		{
			name: "response with result",
			raw:  `{"type":"RESPONSE","id":7,"result":"0xdeadbeef"}`,
			check: func(t *testing.T, msg Message) {
				assert.Equal(t, int64(7), msg.ID)
				assert.Equal(t, `"0xdeadbeef"`, string(msg.Result))
				assert.Nil(t, msg.Error)
			},
		},
		{
			name: "response with error",
			raw:  `{"type":"RESPONSE","id":9,"error":{"code":4001,"message":"User rejected the request"}}`,
			check: func(t *testing.T, msg Message) {
				require.NotNil(t, msg.Error)
				assert.Equal(t, rpcerr.CodeUserRejected, msg.Error.Code)
			},
		},
		{
			name: "event without id",
			raw:  `{"type":"RESPONSE","event":{"type":"chainChanged","payload":"0x1"}}`,
			check: func(t *testing.T, msg Message) {
				assert.True(t, msg.IsEvent())
				assert.Equal(t, EventChainChanged, msg.Event.Type)
			},
		},
		{
			name:    "invalid json",
			raw:     `{"type":`,
			wantErr: true,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"PING","id":1}`,
			wantErr: true,
		},
		{
			name:    "request missing id",
			raw:     `{"type":"REQUEST","method":"eth_accounts"}`,
			wantErr: true,
		},
		{
			name:    "request missing method",
			raw:     `{"type":"REQUEST","id":3}`,
			wantErr: true,
		},
		{
			name:    "response with neither id nor event",
			raw:     `{"type":"RESPONSE","result":"0x1"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, msg)
		})
	}
}

func TestWireFieldNames(t *testing.T) {
	// The injected script and the host agree on these names without
	// negotiation; renaming any of them is a protocol break.
	msg, err := NewRequest(1, "eth_sendTransaction", []any{map[string]string{"from": "0xabc"}})
	require.NoError(t, err)

	data, err := msg.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "REQUEST", decoded["type"])
	assert.Equal(t, float64(1), decoded["id"])
	assert.Equal(t, "eth_sendTransaction", decoded["method"])
	assert.Contains(t, decoded, "params")

	evt, err := NewEvent(EventAccountsChanged, []string{"0xabc"})
	require.NoError(t, err)

	data, err = evt.Encode()
	require.NoError(t, err)

	decoded = map[string]any{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "RESPONSE", decoded["type"])
	assert.NotContains(t, decoded, "id", "events carry no id")
	event, ok := decoded["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "accountsChanged", event["type"])
}

func TestNewErrorResponse(t *testing.T) {
	msg := NewErrorResponse(4, rpcerr.ErrUserRejected)

	data, err := msg.Encode()
	require.NoError(t, err)

	roundTripped, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, roundTripped.Error)
	assert.Equal(t, 4001, roundTripped.Error.Code)
	assert.Empty(t, roundTripped.Result)
}
