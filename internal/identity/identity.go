// Package identity derives the wallet's signing keypair from a platform
// authenticator credential. Derivation is pure and deterministic: the same
// credential always yields the same keypair, which is the recovery story.
// Key material is disposable as long as the credential survives.
package identity

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

// domainSeparator namespaces the derivation. A key derived here can never
// collide with a key any other application derives from the same raw
// credential bytes.
const domainSeparator = "glide-wallet/identity/v1"

// Credential references a platform-issued authenticator credential. The
// platform owns the secret; the wallet only ever sees the stable id bytes.
type Credential struct {
	ID        []byte
	Label     string
	CreatedAt time.Time
}

// Identity is the signing identity derived for one unlock session. The
// private key lives here for the session lifetime and nowhere else.
type Identity struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// Derive computes the signing identity for a credential: HKDF-SHA256 keyed
// by the credential id under the fixed domain separator, reading 32-byte
// candidates until one is a valid secp256k1 scalar. The loop terminates on
// the first candidate except with negligible probability, and the walk is
// itself deterministic, so identical input always yields identical output.
// An empty credential id is a caller contract violation.
func Derive(credentialID []byte) (*Identity, error) {
	if len(credentialID) == 0 {
		return nil, errors.New("credential id must not be empty")
	}

	reader := hkdf.New(sha256.New, credentialID, []byte(domainSeparator), nil)
	candidate := make([]byte, 32)
	defer zeroBytes(candidate)

	for {
		if _, err := io.ReadFull(reader, candidate); err != nil {
			return nil, fmt.Errorf("reading derived key material: %w", err)
		}
		privateKey, err := crypto.ToECDSA(candidate)
		if err != nil {
			// Candidate fell outside the curve order. Take the next block.
			continue
		}
		return &Identity{
			privateKey: privateKey,
			address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		}, nil
	}
}

// Address returns the Ethereum address of the identity.
func (i *Identity) Address() common.Address {
	return i.address
}

// Key exposes the private key to the signer. It must never cross the
// process boundary.
func (i *Identity) Key() *ecdsa.PrivateKey {
	return i.privateKey
}

// Zero wipes the private key material. The identity is unusable afterward.
func (i *Identity) Zero() {
	if i.privateKey != nil {
		i.privateKey.D.SetInt64(0)
		i.privateKey = nil
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
