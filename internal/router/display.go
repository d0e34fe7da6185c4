package router

import (
	"math/big"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/glide-wallet/glide-wallet/internal/approval"
	"github.com/glide-wallet/glide-wallet/internal/chains"
)

// formatAmount renders a wei quantity in the chain's display unit, e.g.
// "0.0015 ETH". Decimal arithmetic keeps 18-digit amounts exact where
// float64 would round.
func formatAmount(wei *big.Int, network chains.Network) string {
	if wei == nil {
		wei = new(big.Int)
	}
	return decimal.NewFromBigInt(wei, -network.Decimals).String() + " " + network.Symbol
}

// signDisplay builds the prompt for a message signature. Payloads that
// decode to printable text are shown as text; anything else stays hex so
// the holder sees exactly what leaves the wallet signed.
func signDisplay(origin Origin, raw string, message []byte, network chains.Network) approval.Display {
	display := approval.Display{
		Origin:     origin.Name,
		ChainName:  network.Name,
		RawMessage: raw,
	}
	if text := string(message); isPrintable(text) {
		display.Message = text
	}
	return display
}

func isPrintable(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}
