package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFromSeedIsDeterministic(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")

	first, err := AuthFromSeed(seed)
	require.NoError(t, err)
	second, err := AuthFromSeed(seed)
	require.NoError(t, err)

	require.Equal(t, first.DID(), second.DID())
	require.True(t, strings.HasPrefix(first.DID(), "did:key:z"), "got %s", first.DID())
}

func TestAuthFromSeedRejectsBadLength(t *testing.T) {
	_, err := AuthFromSeed([]byte("short"))
	require.Error(t, err)
}

func TestDistinctIdentitiesDiffer(t *testing.T) {
	first, err := NewAuth()
	require.NoError(t, err)
	second, err := NewAuth()
	require.NoError(t, err)
	require.NotEqual(t, first.DID(), second.DID())
}

func TestTokenClaims(t *testing.T) {
	auth, err := NewAuth()
	require.NoError(t, err)

	const audience = "wss://relay.example.com"
	tokenString, err := auth.Token(audience, time.Hour)
	require.NoError(t, err)

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		require.IsType(t, &jwt.SigningMethodEd25519{}, token.Method)
		return auth.PublicKey(), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)

	assert.Equal(t, auth.DID(), claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{audience}, claims.Audience)
	assert.NotEmpty(t, claims.Subject)
	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, claims.IssuedAt.Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestTokensCarryFreshSubjects(t *testing.T) {
	auth, err := NewAuth()
	require.NoError(t, err)

	first, err := auth.Token("wss://relay.example.com", time.Hour)
	require.NoError(t, err)
	second, err := auth.Token("wss://relay.example.com", time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
