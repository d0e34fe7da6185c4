package router

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/glide-wallet/glide-wallet/internal/approval"
	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
)

// txParams is the transaction object callers put in eth_sendTransaction
// params. Every quantity is a 0x-prefixed hex string.
type txParams struct {
	From                 string `json:"from"`
	To                   string `json:"to,omitempty"`
	Value                string `json:"value,omitempty"`
	Data                 string `json:"data,omitempty"`
	Input                string `json:"input,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                string `json:"nonce,omitempty"`
}

// txRequest is txParams after decoding. Nil pointers mark fields the
// caller left for the wallet to fill from the chain.
type txRequest struct {
	to       *common.Address
	value    *big.Int
	data     []byte
	nonce    *uint64
	gas      *uint64
	tip      *big.Int
	feeCap   *big.Int
	gasPrice *big.Int
}

func (r *Router) sendTransaction(ctx context.Context, call Call) (any, error) {
	var params txParams
	if err := parseParams(call.Params, &params); err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}
	if err := r.requireActiveAccount(params.From); err != nil {
		return nil, err
	}

	// Decode everything before prompting so the holder never approves a
	// transaction that then fails to parse.
	request, err := parseTxParams(params)
	if err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}

	network := r.Network()
	ticket := approval.NewTicket(approval.KindTransaction, approval.Display{
		Origin:    call.Origin.Name,
		ChainName: network.Name,
		To:        params.To,
		Value:     formatAmount(request.value, network),
	})
	approved, err := r.await(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, rpcerr.ErrUserRejected
	}

	// One chain budget covers dial, field fill and broadcast: once the
	// holder has approved, a stalled endpoint must not hold the page open.
	ctx, cancel := r.callCtx(ctx)
	defer cancel()

	client, err := r.clients(ctx, network.ID)
	if err != nil {
		return nil, rpcerr.NewWithData(rpcerr.CodeChainDisconnected,
			"The provider is not connected to the requested chain", err.Error())
	}

	tx, err := r.buildTx(ctx, client, network.ID, request)
	if err != nil {
		return nil, rpcerr.Internal(err)
	}

	signedTx, err := r.signerRef().SignTx(tx, big.NewInt(network.ID))
	if err != nil {
		return nil, rpcerr.Internal(err)
	}

	hash, err := client.Broadcast(ctx, signedTx)
	if err != nil {
		return nil, rpcerr.Internal(err)
	}
	return hash.Hex(), nil
}

// buildTx fills the fields the caller omitted and assembles a dynamic-fee
// transaction pinned to the active chain.
func (r *Router) buildTx(ctx context.Context, client ChainClient, chainID int64, request *txRequest) (*types.Transaction, error) {
	from := r.signerRef().Address()

	nonce, err := fillNonce(ctx, client, from, request.nonce)
	if err != nil {
		return nil, err
	}
	gas, err := fillGas(ctx, client, from, request)
	if err != nil {
		return nil, err
	}
	tip, feeCap, err := fillFees(ctx, client, request)
	if err != nil {
		return nil, err
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        request.to,
		Value:     request.value,
		Data:      request.data,
	}), nil
}

func fillNonce(ctx context.Context, client ChainClient, from common.Address, pinned *uint64) (uint64, error) {
	if pinned != nil {
		return *pinned, nil
	}
	nonce, err := client.PendingNonce(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("fetching nonce: %w", err)
	}
	return nonce, nil
}

func fillGas(ctx context.Context, client ChainClient, from common.Address, request *txRequest) (uint64, error) {
	if request.gas != nil {
		return *request.gas, nil
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    request.to,
		Value: request.value,
		Data:  request.data,
	})
	if err != nil {
		return 0, fmt.Errorf("estimating gas: %w", err)
	}
	return gas, nil
}

// fillFees resolves the tip and fee cap. A caller-supplied gasPrice pins
// the cap the way legacy tooling expects; otherwise the cap rides twice
// the latest base fee plus the tip, surviving short fee spikes.
func fillFees(ctx context.Context, client ChainClient, request *txRequest) (tip, feeCap *big.Int, err error) {
	tip = request.tip
	if tip == nil {
		tip, err = client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching tip cap: %w", err)
		}
	}

	switch {
	case request.feeCap != nil:
		feeCap = request.feeCap
	case request.gasPrice != nil:
		feeCap = request.gasPrice
	default:
		baseFee, err := client.LatestBaseFee(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching base fee: %w", err)
		}
		feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	}

	if feeCap.Cmp(tip) < 0 {
		return nil, nil, fmt.Errorf("fee cap %s is below tip %s", feeCap, tip)
	}
	return tip, feeCap, nil
}

func parseTxParams(params txParams) (*txRequest, error) {
	request := &txRequest{value: new(big.Int)}

	if params.To != "" {
		if !common.IsHexAddress(params.To) {
			return nil, fmt.Errorf("%q is not an address", params.To)
		}
		to := common.HexToAddress(params.To)
		request.to = &to
	}

	if params.Value != "" {
		value, err := hexutil.DecodeBig(params.Value)
		if err != nil {
			return nil, fmt.Errorf("decoding value: %w", err)
		}
		request.value = value
	}

	// Newer tooling sends input, older sends data. Input wins when both
	// are present, matching node behavior.
	payload := params.Data
	if params.Input != "" {
		payload = params.Input
	}
	if payload != "" {
		data, err := hexutil.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding calldata: %w", err)
		}
		request.data = data
	}

	if params.Nonce != "" {
		nonce, err := hexutil.DecodeUint64(params.Nonce)
		if err != nil {
			return nil, fmt.Errorf("decoding nonce: %w", err)
		}
		request.nonce = &nonce
	}
	if params.Gas != "" {
		gas, err := hexutil.DecodeUint64(params.Gas)
		if err != nil {
			return nil, fmt.Errorf("decoding gas: %w", err)
		}
		request.gas = &gas
	}
	if params.MaxPriorityFeePerGas != "" {
		tip, err := hexutil.DecodeBig(params.MaxPriorityFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("decoding maxPriorityFeePerGas: %w", err)
		}
		request.tip = tip
	}
	if params.MaxFeePerGas != "" {
		feeCap, err := hexutil.DecodeBig(params.MaxFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("decoding maxFeePerGas: %w", err)
		}
		request.feeCap = feeCap
	}
	if params.GasPrice != "" {
		gasPrice, err := hexutil.DecodeBig(params.GasPrice)
		if err != nil {
			return nil, fmt.Errorf("decoding gasPrice: %w", err)
		}
		request.gasPrice = gasPrice
	}

	return request, nil
}
