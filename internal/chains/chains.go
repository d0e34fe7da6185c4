// Package chains holds the registry of networks the wallet knows how to
// operate on. Chain ids travel as 0x-prefixed hex quantities on the wire and
// as plain integers internally; conversion is exact in both directions.
package chains

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Network describes one chain.
type Network struct {
	ID       int64
	Name     string
	Symbol   string
	Decimals int32
	RPCURL   string
}

// HexID returns the canonical 0x-hex form of the chain id.
func (n Network) HexID() string {
	return FormatChainID(n.ID)
}

// NetVersion returns the decimal string form used by net_version.
func (n Network) NetVersion() string {
	return strconv.FormatInt(n.ID, 10)
}

// builtin networks. RPC endpoints are public defaults; hosts override them
// per chain via configuration.
func builtin() []Network {
	return []Network{
		{ID: 1, Name: "Ethereum Mainnet", Symbol: "ETH", Decimals: 18, RPCURL: "https://cloudflare-eth.com"},
		{ID: 10, Name: "OP Mainnet", Symbol: "ETH", Decimals: 18, RPCURL: "https://mainnet.optimism.io"},
		{ID: 56, Name: "BNB Smart Chain", Symbol: "BNB", Decimals: 18, RPCURL: "https://bsc-dataseed.binance.org"},
		{ID: 137, Name: "Polygon", Symbol: "POL", Decimals: 18, RPCURL: "https://polygon-rpc.com"},
		{ID: 8453, Name: "Base", Symbol: "ETH", Decimals: 18, RPCURL: "https://mainnet.base.org"},
		{ID: 42161, Name: "Arbitrum One", Symbol: "ETH", Decimals: 18, RPCURL: "https://arb1.arbitrum.io/rpc"},
		{ID: 11155111, Name: "Sepolia", Symbol: "ETH", Decimals: 18, RPCURL: "https://rpc.sepolia.org"},
	}
}

// Registry resolves chain ids to known networks.
type Registry struct {
	byID map[int64]Network
}

// NewRegistry builds the registry from the built-in set, applying per-chain
// RPC endpoint overrides.
func NewRegistry(rpcOverrides map[int64]string) *Registry {
	byID := make(map[int64]Network)
	for _, n := range builtin() {
		if url, ok := rpcOverrides[n.ID]; ok {
			n.RPCURL = url
		}
		byID[n.ID] = n
	}
	return &Registry{byID: byID}
}

// Lookup returns the network for a numeric chain id.
func (r *Registry) Lookup(id int64) (Network, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// LookupHex returns the network for a 0x-hex chain id. Malformed hex counts
// as unknown.
func (r *Registry) LookupHex(hexID string) (Network, bool) {
	id, err := ParseChainID(hexID)
	if err != nil {
		return Network{}, false
	}
	return r.Lookup(id)
}

// IDs returns the known chain ids in ascending order.
func (r *Registry) IDs() []int64 {
	ids := make([]int64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ParseChainID decodes a 0x-prefixed hex quantity into a numeric chain id.
func ParseChainID(hexID string) (int64, error) {
	id, err := hexutil.DecodeUint64(hexID)
	if err != nil {
		return 0, fmt.Errorf("parsing chain id %q: %w", hexID, err)
	}
	if id > math.MaxInt64 {
		return 0, fmt.Errorf("chain id %q out of range", hexID)
	}
	return int64(id), nil
}

// FormatChainID encodes a numeric chain id as a canonical 0x-hex quantity.
func FormatChainID(id int64) string {
	return hexutil.EncodeUint64(uint64(id))
}
