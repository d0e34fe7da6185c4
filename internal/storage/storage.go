// Package storage persists what must survive a restart: settled sessions
// and registered credentials. Values are JSON blobs in an embedded
// key-value store; there is no external database to operate.
package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("storage: not found")

// SessionRecord is one settled session as persisted. The symmetric key is
// hex; namespaces stay opaque JSON so the store does not depend on session
// internals. Expiry and CreatedAt are unix seconds, matching how expiry
// travels in the pairing protocol.
type SessionRecord struct {
	Topic      string          `json:"topic"`
	SymKey     string          `json:"symKey"`
	PeerName   string          `json:"peerName"`
	PeerURL    string          `json:"peerUrl,omitempty"`
	Address    string          `json:"address"`
	Namespaces json.RawMessage `json:"namespaces"`
	Expiry     int64           `json:"expiry"`
	CreatedAt  int64           `json:"createdAt"`
}

// CredentialRecord is one registered credential. Only the identifier and
// label are stored; keys are re-derived, never persisted.
type CredentialRecord struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence surface the wallet consumes.
type Store interface {
	PutSession(record SessionRecord) error
	GetSession(topic string) (SessionRecord, error)
	DeleteSession(topic string) error
	ListSessions() ([]SessionRecord, error)

	PutCredential(record CredentialRecord) error
	GetCredential(id string) (CredentialRecord, error)
	ListCredentials() ([]CredentialRecord, error)

	Close() error
}
