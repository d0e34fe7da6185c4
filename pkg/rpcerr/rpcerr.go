package rpcerr

import (
	"errors"
	"fmt"
)

// Error is the structured provider error returned to requesting pages. It
// marshals to the wire envelope's error object; Code follows the EIP-1193
// provider taxonomy (plus the shared JSON-RPC codes) so page code can branch
// on it without parsing messages.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Provider error codes
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeChainNotAdded     = 4902
	CodeInvalidParams     = -32602
	CodeInternal          = -32603

	// CodeTimeout is synthesized by the provider when a request outlives its
	// client-side deadline. It is never sent over the wire.
	CodeTimeout = -32002
)

// Predefined errors
var (
	ErrUserRejected = &Error{
		Code:    CodeUserRejected,
		Message: "User rejected the request",
	}

	ErrUnauthorized = &Error{
		Code:    CodeUnauthorized,
		Message: "The requested account has not been authorized",
	}

	ErrUnsupportedMethod = &Error{
		Code:    CodeUnsupportedMethod,
		Message: "The requested method is not supported",
	}

	ErrDisconnected = &Error{
		Code:    CodeDisconnected,
		Message: "The provider is disconnected",
	}

	ErrChainDisconnected = &Error{
		Code:    CodeChainDisconnected,
		Message: "The provider is not connected to the requested chain",
	}
)

// New creates a new Error
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewWithData creates a new Error carrying diagnostic data
func NewWithData(code int, message string, data any) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// UnsupportedMethod creates a 4200 error naming the offending method
func UnsupportedMethod(method string) *Error {
	return &Error{
		Code:    CodeUnsupportedMethod,
		Message: fmt.Sprintf("The method %q is not supported", method),
	}
}

// ChainNotAdded creates a 4902 error for a chain the wallet does not know
func ChainNotAdded(chainID string) *Error {
	return &Error{
		Code:    CodeChainNotAdded,
		Message: fmt.Sprintf("Unrecognized chain ID %q", chainID),
	}
}

// InvalidParams creates a -32602 error with a description of the defect
func InvalidParams(detail string) *Error {
	return &Error{
		Code:    CodeInvalidParams,
		Message: "Invalid request parameters",
		Data:    detail,
	}
}

// Internal wraps an unexpected failure as a -32603 error, preserving the
// underlying message for diagnostics
func Internal(err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: "Internal error",
		Data:    err.Error(),
	}
}

// Timeout creates the client-only timeout error for a request that outlived
// its deadline
func Timeout(method string) *Error {
	return &Error{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("Request %q timed out", method),
	}
}

// AsError checks if an error is (or wraps) a provider Error
func AsError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// FromError normalizes any error to a provider Error. Structured errors pass
// through unchanged; everything else is wrapped as internal so no failure
// escapes the transport edge unstructured.
func FromError(err error) *Error {
	if rpcErr, ok := AsError(err); ok {
		return rpcErr
	}
	return Internal(err)
}
