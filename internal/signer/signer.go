// Package signer produces all signatures for the active session identity:
// EIP-191 personal messages, EIP-712 typed data, and transactions. The
// private key never leaves the process; callers only ever see signatures.
package signer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/glide-wallet/glide-wallet/internal/identity"
)

// ErrClosed is returned when signing is attempted after the key was wiped.
var ErrClosed = errors.New("signer: key material has been wiped")

// Signer holds the derived identity for one unlock session.
type Signer struct {
	identity *identity.Identity
}

// New creates a signer over a derived identity.
func New(id *identity.Identity) *Signer {
	return &Signer{identity: id}
}

// Address returns the signing address.
func (s *Signer) Address() common.Address {
	return s.identity.Address()
}

// SignMessage signs a personal message. The payload is prefixed per EIP-191
// before hashing; V is normalized to 27/28 as wallets return it.
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	key := s.identity.Key()
	if key == nil {
		return nil, ErrClosed
	}

	hash := accounts.TextHash(message)
	signature, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}
	signature[64] += 27

	return signature, nil
}

// SignTypedData signs an EIP-712 structured payload.
func (s *Signer) SignTypedData(typedData apitypes.TypedData) ([]byte, error) {
	key := s.identity.Key()
	if key == nil {
		return nil, ErrClosed
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hashing typed data: %w", err)
	}
	signature, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("signing typed data: %w", err)
	}
	signature[64] += 27

	return signature, nil
}

// SignTx signs a transaction for the given chain.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	key := s.identity.Key()
	if key == nil {
		return nil, ErrClosed
	}

	signedTx, err := types.SignTx(tx, types.NewLondonSigner(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	return signedTx, nil
}

// Close wipes the key material. The signer is unusable afterward.
func (s *Signer) Close() {
	s.identity.Zero()
}
