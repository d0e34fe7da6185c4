package relay

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
)

// did:key multicodec prefix for an ed25519 public key.
var ed25519Prefix = []byte{0xed, 0x01}

// Auth is the relay client identity: an ed25519 key whose did:key form is
// the issuer of the token presented at dial time.
type Auth struct {
	key ed25519.PrivateKey
}

// NewAuth generates a fresh client identity.
func NewAuth() (*Auth, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("relay: generating auth key: %w", err)
	}
	return &Auth{key: key}, nil
}

// AuthFromSeed rebuilds the identity from a stored seed, keeping the client
// id stable across restarts.
func AuthFromSeed(seed []byte) (*Auth, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("relay: auth seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Auth{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// DID returns the did:key form of the public key.
func (a *Auth) DID() string {
	pub := a.key.Public().(ed25519.PublicKey)
	raw := make([]byte, 0, len(ed25519Prefix)+len(pub))
	raw = append(raw, ed25519Prefix...)
	raw = append(raw, pub...)
	return "did:key:z" + base58.Encode(raw)
}

// PublicKey returns the verifying half of the identity.
func (a *Auth) PublicKey() ed25519.PublicKey {
	return a.key.Public().(ed25519.PublicKey)
}

// Token mints the dial token: issued by the client DID, scoped to one relay
// endpoint, carrying a one-time subject.
func (a *Auth) Token(audience string, ttl time.Duration) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("relay: reading nonce: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.DID(),
		Subject:   hex.EncodeToString(nonce),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("relay: signing auth token: %w", err)
	}
	return token, nil
}
