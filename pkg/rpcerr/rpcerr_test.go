package rpcerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name: "error without data",
			err: &Error{
				Code:    CodeUserRejected,
				Message: "User rejected the request",
			},
			expected: "4001: User rejected the request",
		},
		{
			name: "error with data",
			err: &Error{
				Code:    CodeInternal,
				Message: "Internal error",
				Data:    "nonce too low",
			},
			expected: "-32603: Internal error (nonce too low)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestUnsupportedMethod(t *testing.T) {
	err := UnsupportedMethod("wallet_addEthereumChain")

	assert.Equal(t, CodeUnsupportedMethod, err.Code)
	assert.Contains(t, err.Message, "wallet_addEthereumChain")
}

func TestChainNotAdded(t *testing.T) {
	err := ChainNotAdded("0x999999")

	assert.Equal(t, CodeChainNotAdded, err.Code)
	assert.Contains(t, err.Message, "0x999999")
}

func TestInternal(t *testing.T) {
	err := Internal(errors.New("broadcast failed: nonce too low"))

	assert.Equal(t, CodeInternal, err.Code)
	assert.Equal(t, "Internal error", err.Message)
	assert.Equal(t, "broadcast failed: nonce too low", err.Data)
}

func TestAsError(t *testing.T) {
	t.Run("returns Error when error is Error", func(t *testing.T) {
		originalErr := New(CodeUnauthorized, "not authorized")
		rpcErr, ok := AsError(originalErr)

		require.True(t, ok)
		assert.Equal(t, originalErr, rpcErr)
	})

	t.Run("returns false when error is not Error", func(t *testing.T) {
		stdErr := errors.New("standard error")
		rpcErr, ok := AsError(stdErr)

		assert.False(t, ok)
		assert.Nil(t, rpcErr)
	})

	t.Run("works with wrapped errors", func(t *testing.T) {
		originalErr := ErrUserRejected
		wrappedErr := fmt.Errorf("routing personal_sign: %w", originalErr)

		rpcErr, ok := AsError(wrappedErr)

		require.True(t, ok)
		assert.Equal(t, originalErr, rpcErr)
	})
}

func TestFromError(t *testing.T) {
	t.Run("passes structured errors through", func(t *testing.T) {
		rpcErr := FromError(ErrDisconnected)

		assert.Equal(t, CodeDisconnected, rpcErr.Code)
	})

	t.Run("wraps unknown errors as internal", func(t *testing.T) {
		rpcErr := FromError(errors.New("signer exploded"))

		assert.Equal(t, CodeInternal, rpcErr.Code)
		assert.Equal(t, "signer exploded", rpcErr.Data)
	})
}

func TestWireShape(t *testing.T) {
	// Field names must match the envelope's error object exactly; the page
	// side has no negotiation step to discover alternatives.
	data, err := json.Marshal(ChainNotAdded("0x999999"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, float64(4902), decoded["code"])
	assert.NotEmpty(t, decoded["message"])
	_, hasData := decoded["data"]
	assert.False(t, hasData, "empty data must be omitted")
}

func TestCodeConstants(t *testing.T) {
	// Verify provider codes are unique
	codes := []int{
		CodeUserRejected,
		CodeUnauthorized,
		CodeUnsupportedMethod,
		CodeDisconnected,
		CodeChainDisconnected,
		CodeChainNotAdded,
		CodeInvalidParams,
		CodeInternal,
		CodeTimeout,
	}

	uniqueCodes := make(map[int]bool)
	for _, code := range codes {
		assert.False(t, uniqueCodes[code], "error code %d is duplicate", code)
		uniqueCodes[code] = true
	}
}

func TestError_ImplementsError(t *testing.T) {
	var err error = &Error{
		Code:    CodeInternal,
		Message: "test message",
	}

	assert.NotEmpty(t, err.Error())
}
