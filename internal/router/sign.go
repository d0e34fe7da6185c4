package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/glide-wallet/glide-wallet/internal/approval"
	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
)

func (r *Router) signMessage(ctx context.Context, call Call) (any, error) {
	var first, second string
	if err := parseParams(call.Params, &first, &second); err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}

	// personal_sign orders params [data, address]; eth_sign is the reverse.
	data, account := first, second
	if call.Method == "eth_sign" {
		data, account = second, first
	}

	if err := r.requireActiveAccount(account); err != nil {
		return nil, err
	}

	message, err := decodeSignPayload(data)
	if err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}

	ticket := approval.NewTicket(approval.KindSign, signDisplay(call.Origin, data, message, r.Network()))
	approved, err := r.await(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, rpcerr.ErrUserRejected
	}

	signature, err := r.signerRef().SignMessage(message)
	if err != nil {
		return nil, rpcerr.Internal(err)
	}
	return hexutil.Encode(signature), nil
}

func (r *Router) signTypedData(ctx context.Context, call Call) (any, error) {
	var account string
	var payload json.RawMessage
	if err := parseParams(call.Params, &account, &payload); err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}
	if err := r.requireActiveAccount(account); err != nil {
		return nil, err
	}

	typedData, err := parseTypedData(payload)
	if err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}

	ticket := approval.NewTicket(approval.KindSignTypedData, approval.Display{
		Origin:      call.Origin.Name,
		ChainName:   r.Network().Name,
		DomainName:  typedData.Domain.Name,
		PrimaryType: typedData.PrimaryType,
	})
	approved, err := r.await(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, rpcerr.ErrUserRejected
	}

	signature, err := r.signerRef().SignTypedData(typedData)
	if err != nil {
		return nil, rpcerr.Internal(err)
	}
	return hexutil.Encode(signature), nil
}

// requireActiveAccount rejects requests naming any account but the one the
// wallet holds. Callers learn about account swaps through accountsChanged,
// so a stale address here means they skipped the handshake.
func (r *Router) requireActiveAccount(account string) error {
	if !common.IsHexAddress(account) {
		return rpcerr.InvalidParams(fmt.Sprintf("%q is not an address", account))
	}
	if common.HexToAddress(account) != r.signerRef().Address() {
		return rpcerr.ErrUnauthorized
	}
	return nil
}

// decodeSignPayload decodes a 0x-prefixed hex payload into its raw bytes.
// A bare string is taken literally, matching what providers accept.
func decodeSignPayload(data string) ([]byte, error) {
	if strings.HasPrefix(data, "0x") {
		decoded, err := hexutil.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decoding message hex: %w", err)
		}
		return decoded, nil
	}
	return []byte(data), nil
}

// parseTypedData accepts the EIP-712 object itself or a JSON string
// containing it, the two shapes callers put in the second param.
func parseTypedData(raw json.RawMessage) (apitypes.TypedData, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var embedded string
		if err := json.Unmarshal(trimmed, &embedded); err != nil {
			return apitypes.TypedData{}, fmt.Errorf("unquoting typed data: %w", err)
		}
		trimmed = []byte(embedded)
	}

	var typedData apitypes.TypedData
	if err := json.Unmarshal(trimmed, &typedData); err != nil {
		return apitypes.TypedData{}, fmt.Errorf("parsing typed data: %w", err)
	}
	if typedData.PrimaryType == "" || len(typedData.Types) == 0 {
		return apitypes.TypedData{}, fmt.Errorf("typed data is missing types or primaryType")
	}
	return typedData, nil
}
