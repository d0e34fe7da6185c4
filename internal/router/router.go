// Package router decides what happens to every request entering the wallet:
// answer directly, suspend on human approval, proxy to the chain, or reject
// with a structured error. Both transports funnel here, so a request means
// the same thing whichever way it arrived.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/glide-wallet/glide-wallet/internal/approval"
	"github.com/glide-wallet/glide-wallet/internal/chains"
	"github.com/glide-wallet/glide-wallet/internal/events"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/metrics"
	"github.com/glide-wallet/glide-wallet/internal/signer"
	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
	"github.com/glide-wallet/glide-wallet/pkg/wire"
)

// Origin identifies the requesting surface for prompts and audit logs.
type Origin struct {
	Transport string `json:"transport"`
	Name      string `json:"name"`
	URL       string `json:"url,omitempty"`
}

// Call is one request as it enters the router.
type Call struct {
	Method string
	Params json.RawMessage
	Origin Origin
}

// ChainClient is the slice of the chain RPC surface the router needs.
// Satisfied by *eth.Client.
type ChainClient interface {
	RawCall(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
	PendingNonce(ctx context.Context, address common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	LatestBaseFee(ctx context.Context) (*big.Int, error)
	Broadcast(ctx context.Context, signedTx *types.Transaction) (common.Hash, error)
}

// Config wires the router's collaborators.
type Config struct {
	Signer   *signer.Signer
	Gate     *approval.Gate
	Registry *chains.Registry
	Bus      *events.Bus
	Clients  func(ctx context.Context, chainID int64) (ChainClient, error)
	ChainID  int64
	Metrics  *metrics.Metrics

	// ApprovalTTL bounds how long a ticket may sit at the gate before it
	// resolves to rejected. Zero waits indefinitely.
	ApprovalTTL time.Duration
	// CallTimeout bounds upstream chain RPC work per request. Zero leaves
	// the caller's context in charge.
	CallTimeout time.Duration
}

// Router routes requests and owns the authoritative provider state: active
// chain, disclosed accounts, connectivity. The copies living inside pages
// are caches updated only by the events this router emits.
type Router struct {
	gate        *approval.Gate
	registry    *chains.Registry
	bus         *events.Bus
	clients     func(ctx context.Context, chainID int64) (ChainClient, error)
	metrics     *metrics.Metrics
	approvalTTL time.Duration
	callTimeout time.Duration

	mu        sync.RWMutex
	signer    *signer.Signer
	chainID   int64
	connected bool
}

// New creates a router. The initial chain must be in the registry.
func New(cfg Config) (*Router, error) {
	if cfg.Signer == nil || cfg.Gate == nil || cfg.Registry == nil || cfg.Bus == nil || cfg.Clients == nil {
		return nil, fmt.Errorf("router: signer, gate, registry, bus and clients are all required")
	}
	if _, ok := cfg.Registry.Lookup(cfg.ChainID); !ok {
		return nil, fmt.Errorf("router: chain %d is not in the registry", cfg.ChainID)
	}

	return &Router{
		gate:        cfg.Gate,
		registry:    cfg.Registry,
		bus:         cfg.Bus,
		clients:     cfg.Clients,
		metrics:     cfg.Metrics,
		approvalTTL: cfg.ApprovalTTL,
		callTimeout: cfg.CallTimeout,
		signer:      cfg.Signer,
		chainID:     cfg.ChainID,
		connected:   true,
	}, nil
}

// Handle routes one request to completion: exactly one of result or error,
// never both, never neither. Errors are always structured provider errors.
func (r *Router) Handle(ctx context.Context, call Call) (any, error) {
	started := time.Now()

	result, err := r.route(ctx, call)

	outcome := "ok"
	if err != nil {
		rpcErr := rpcerr.FromError(err)
		switch rpcErr.Code {
		case rpcerr.CodeUserRejected:
			outcome = "rejected"
		case rpcerr.CodeUnsupportedMethod:
			outcome = "unsupported"
		default:
			outcome = "error"
		}
		err = rpcErr
	}

	duration := time.Since(started)
	r.metrics.ObserveRequest(call.Method, outcome, duration)
	logger.FromContext(ctx).Info("request routed",
		"method", call.Method,
		"transport", call.Origin.Transport,
		"origin", call.Origin.Name,
		"outcome", outcome,
		"duration_ms", duration.Milliseconds(),
	)
	return result, err
}

func (r *Router) route(ctx context.Context, call Call) (any, error) {
	if !r.Connected() {
		return nil, rpcerr.ErrDisconnected
	}

	switch call.Method {
	case "eth_requestAccounts", "eth_accounts":
		// The wallet holds exactly one unlockable identity per session.
		return r.Accounts(), nil

	case "eth_chainId":
		return chains.FormatChainID(r.ActiveChain()), nil

	case "net_version":
		return r.Network().NetVersion(), nil

	case "personal_sign", "eth_sign":
		return r.signMessage(ctx, call)

	case "eth_signTypedData", "eth_signTypedData_v4":
		return r.signTypedData(ctx, call)

	case "eth_sendTransaction":
		return r.sendTransaction(ctx, call)

	case "wallet_switchEthereumChain":
		return r.switchChain(ctx, call)

	case "wallet_addEthereumChain":
		return nil, rpcerr.NewWithData(rpcerr.CodeUnsupportedMethod,
			"wallet_addEthereumChain is not supported",
			"networks are configured on the wallet host; ask the holder to enable the chain there")

	default:
		if _, ok := passthroughMethods[call.Method]; ok {
			return r.passthrough(ctx, call)
		}
		return nil, rpcerr.UnsupportedMethod(call.Method)
	}
}

// passthroughMethods are read-only chain queries proxied verbatim to the
// active network's RPC endpoint, no approval involved.
var passthroughMethods = map[string]struct{}{
	"eth_blockNumber":            {},
	"eth_call":                   {},
	"eth_estimateGas":            {},
	"eth_feeHistory":             {},
	"eth_gasPrice":               {},
	"eth_getBalance":             {},
	"eth_getBlockByHash":         {},
	"eth_getBlockByNumber":       {},
	"eth_getCode":                {},
	"eth_getLogs":                {},
	"eth_getStorageAt":           {},
	"eth_getTransactionByHash":   {},
	"eth_getTransactionCount":    {},
	"eth_getTransactionReceipt":  {},
	"eth_maxPriorityFeePerGas":   {},
}

func (r *Router) passthrough(ctx context.Context, call Call) (any, error) {
	var params []json.RawMessage
	if len(call.Params) > 0 {
		if err := json.Unmarshal(call.Params, &params); err != nil {
			return nil, rpcerr.InvalidParams(fmt.Sprintf("params must be a positional array: %v", err))
		}
	}

	ctx, cancel := r.callCtx(ctx)
	defer cancel()

	client, err := r.clients(ctx, r.ActiveChain())
	if err != nil {
		return nil, rpcerr.NewWithData(rpcerr.CodeChainDisconnected,
			"The provider is not connected to the requested chain", err.Error())
	}

	result, err := client.RawCall(ctx, call.Method, params)
	if err != nil {
		return nil, rpcerr.Internal(err)
	}
	return result, nil
}

type switchChainParam struct {
	ChainID string `json:"chainId"`
}

func (r *Router) switchChain(ctx context.Context, call Call) (any, error) {
	var param switchChainParam
	if err := parseParams(call.Params, &param); err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}

	// Unknown chains never reach the gate, and never touch state.
	target, ok := r.registry.LookupHex(param.ChainID)
	if !ok {
		return nil, rpcerr.ChainNotAdded(param.ChainID)
	}

	ticket := approval.NewTicket(approval.KindNetworkSwitch, approval.Display{
		Origin:    call.Origin.Name,
		FromChain: r.Network().Name,
		ToChain:   target.Name,
	})
	approved, err := r.await(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, rpcerr.ErrUserRejected
	}

	r.mu.Lock()
	r.chainID = target.ID
	r.mu.Unlock()

	if err := r.bus.Publish(wire.EventChainChanged, target.HexID()); err != nil {
		logger.FromContext(ctx).Error("publishing chainChanged", "error", err)
	}
	return nil, nil
}

// await runs a ticket through the gate, bounded by the approval TTL: a
// ticket nobody decides resolves to rejected. Gate errors mean the wallet
// is shutting down, which surfaces as a disconnect.
func (r *Router) await(ctx context.Context, ticket *approval.Ticket) (bool, error) {
	if r.approvalTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.approvalTTL)
		defer cancel()
	}

	approved, err := r.gate.Request(ctx, ticket)
	if err != nil {
		return false, rpcerr.ErrDisconnected
	}
	r.metrics.ObserveDecision(string(ticket.Kind), approved)
	r.metrics.SetApprovalQueue(r.gate.Depth())
	return approved, nil
}

// callCtx bounds upstream chain RPC work when a call timeout is set.
func (r *Router) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.callTimeout)
}

// Accounts returns the disclosed account list.
func (r *Router) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return []string{r.signer.Address().Hex()}
}

// ActiveChain returns the active chain id.
func (r *Router) ActiveChain() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chainID
}

// Network returns the active network.
func (r *Router) Network() chains.Network {
	network, _ := r.registry.Lookup(r.ActiveChain())
	return network
}

// Connected reports whether the router still serves requests.
func (r *Router) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// SetIdentity swaps the active signer, announcing the account change to
// every transport. Live sessions are told separately by the session
// manager.
func (r *Router) SetIdentity(s *signer.Signer) {
	r.mu.Lock()
	r.signer = s
	r.mu.Unlock()

	if err := r.bus.Publish(wire.EventAccountsChanged, r.Accounts()); err != nil {
		logger.Component("router").Error("publishing accountsChanged", "error", err)
	}
}

// Shutdown stops serving and tells every transport the provider is gone.
func (r *Router) Shutdown() {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return
	}
	r.connected = false
	r.mu.Unlock()

	if err := r.bus.Publish(wire.EventDisconnect, rpcerr.ErrDisconnected); err != nil {
		logger.Component("router").Error("publishing disconnect", "error", err)
	}
}

func (r *Router) signerRef() *signer.Signer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.signer
}

// parseParams unmarshals a positional params array into the given pointers.
func parseParams(raw json.RawMessage, dst ...any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return fmt.Errorf("params must be a positional array: %w", err)
	}
	if len(elems) < len(dst) {
		return fmt.Errorf("expected %d params, got %d", len(dst), len(elems))
	}
	for i, target := range dst {
		if err := json.Unmarshal(elems[i], target); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
	}
	return nil
}
