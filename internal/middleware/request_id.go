package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/glide-wallet/glide-wallet/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags every request with a correlation id. An id handed down by
// an upstream proxy is kept; otherwise a fresh one is minted. The id rides
// the request context into the log lines and goes back to the caller in the
// response header, so a bridge page, the host log, and the HTTP client all
// name the same request the same way.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = newRequestID()
		}

		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// newRequestID returns 16 random bytes as 32 hex characters.
func newRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "unidentified-request"
	}
	return hex.EncodeToString(b)
}
