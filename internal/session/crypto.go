package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	symKeySize = chacha20poly1305.KeySize

	// envelopeSealed is the envelope type byte for payloads encrypted with a
	// symmetric key both participants already hold.
	envelopeSealed byte = 0
)

// keyPair is one side of the X25519 agreement that keys a session topic.
type keyPair struct {
	private [curve25519.ScalarSize]byte
	public  [curve25519.PointSize]byte
}

func newKeyPair() (keyPair, error) {
	var kp keyPair
	if _, err := rand.Read(kp.private[:]); err != nil {
		return keyPair{}, fmt.Errorf("generating session key: %w", err)
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return keyPair{}, fmt.Errorf("deriving session public key: %w", err)
	}
	copy(kp.public[:], pub)
	return kp, nil
}

// deriveSymKey runs the X25519 agreement against the peer's public key and
// expands the shared secret with HKDF-SHA256 into the session's symmetric
// key. Both participants compute the identical key from opposite sides.
func deriveSymKey(kp keyPair, peerPublicHex string) ([]byte, error) {
	peerPublic, err := hex.DecodeString(peerPublicHex)
	if err != nil {
		return nil, fmt.Errorf("decoding peer public key: %w", err)
	}
	if len(peerPublic) != curve25519.PointSize {
		return nil, fmt.Errorf("peer public key is %d bytes, want %d", len(peerPublic), curve25519.PointSize)
	}

	shared, err := curve25519.X25519(kp.private[:], peerPublic)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}

	symKey := make([]byte, symKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, nil), symKey); err != nil {
		return nil, fmt.Errorf("expanding shared secret: %w", err)
	}
	return symKey, nil
}

// topicFor returns the relay topic keyed by a symmetric key. Both
// participants derive the same key, so both arrive at the same topic without
// exchanging it.
func topicFor(symKey []byte) string {
	digest := sha256.Sum256(symKey)
	return hex.EncodeToString(digest[:])
}

// sealEnvelope encrypts a payload into the base64 envelope published to the
// relay: one type byte, the nonce, then the ChaCha20-Poly1305 ciphertext.
func sealEnvelope(symKey, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.New(symKey)
	if err != nil {
		return "", fmt.Errorf("building cipher: %w", err)
	}

	sealed := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	sealed[0] = envelopeSealed
	if _, err := rand.Read(sealed[1 : 1+aead.NonceSize()]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed = aead.Seal(sealed, sealed[1:1+aead.NonceSize()], plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// openEnvelope reverses sealEnvelope. Unknown envelope types and forged or
// truncated ciphertexts are rejected.
func openEnvelope(symKey []byte, sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	aead, err := chacha20poly1305.New(symKey)
	if err != nil {
		return nil, fmt.Errorf("building cipher: %w", err)
	}
	if len(raw) < 1+aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(raw))
	}
	if raw[0] != envelopeSealed {
		return nil, fmt.Errorf("unsupported envelope type %d", raw[0])
	}

	nonce := raw[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, raw[1+aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("opening envelope: %w", err)
	}
	return plaintext, nil
}
