package session

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyAgreementConverges(t *testing.T) {
	wallet, err := newKeyPair()
	require.NoError(t, err)
	dapp, err := newKeyPair()
	require.NoError(t, err)

	walletSide, err := deriveSymKey(wallet, hex.EncodeToString(dapp.public[:]))
	require.NoError(t, err)
	dappSide, err := deriveSymKey(dapp, hex.EncodeToString(wallet.public[:]))
	require.NoError(t, err)

	assert.Equal(t, walletSide, dappSide)
	assert.Len(t, walletSide, symKeySize)
	assert.Equal(t, topicFor(walletSide), topicFor(dappSide))
	assert.Len(t, topicFor(walletSide), 64)
}

func TestDeriveSymKeyRejectsBadPeer(t *testing.T) {
	kp, err := newKeyPair()
	require.NoError(t, err)

	_, err = deriveSymKey(kp, "not-hex")
	require.Error(t, err)

	_, err = deriveSymKey(kp, "abcd")
	require.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	wallet, err := newKeyPair()
	require.NoError(t, err)
	dapp, err := newKeyPair()
	require.NoError(t, err)
	key, err := deriveSymKey(wallet, hex.EncodeToString(dapp.public[:]))
	require.NoError(t, err)

	sealed, err := sealEnvelope(key, []byte(`{"id":1,"method":"wc_sessionPing"}`))
	require.NoError(t, err)

	plaintext, err := openEnvelope(key, sealed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"method":"wc_sessionPing"}`, string(plaintext))
}

func TestEnvelopeNoncesAreFresh(t *testing.T) {
	key := make([]byte, symKeySize)
	first, err := sealEnvelope(key, []byte("same payload"))
	require.NoError(t, err)
	second, err := sealEnvelope(key, []byte("same payload"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestEnvelopeRejectsWrongKey(t *testing.T) {
	right := make([]byte, symKeySize)
	wrong := make([]byte, symKeySize)
	wrong[0] = 1

	sealed, err := sealEnvelope(right, []byte("secret"))
	require.NoError(t, err)

	_, err = openEnvelope(wrong, sealed)
	require.Error(t, err)
}

func TestEnvelopeRejectsUnknownType(t *testing.T) {
	key := make([]byte, symKeySize)
	sealed, err := sealEnvelope(key, []byte("secret"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[0] = 1

	_, err = openEnvelope(key, base64.StdEncoding.EncodeToString(raw))
	require.ErrorContains(t, err, "unsupported envelope type")
}

func TestEnvelopeRejectsGarbage(t *testing.T) {
	key := make([]byte, symKeySize)

	_, err := openEnvelope(key, "!!!not base64!!!")
	require.Error(t, err)

	_, err = openEnvelope(key, base64.StdEncoding.EncodeToString([]byte{0, 1, 2}))
	require.ErrorContains(t, err, "too short")
}
