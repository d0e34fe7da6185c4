package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glide-wallet/glide-wallet/internal/identity"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/storage"
)

var (
	// ErrLocked is returned for operations that need an unlocked wallet.
	ErrLocked = errors.New("wallet: locked")
	// ErrAlreadyUnlocked is returned when unlocking twice without a lock in
	// between. Identity switching is the supported way to change accounts.
	ErrAlreadyUnlocked = errors.New("wallet: already unlocked")
)

// Service owns the wallet lifecycle for the host process. At most one
// wallet is unlocked at a time; the rest of the host reaches the live
// wallet through Current and must tolerate it being absent.
type Service struct {
	deps Deps
	log  *slog.Logger

	mu      sync.Mutex
	current *Wallet
}

// NewService validates the shared dependencies and returns a locked
// service.
func NewService(deps Deps) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Service{deps: deps, log: logger.Component("wallet")}, nil
}

// Unlock builds the wallet for a credential. Fails if one is already
// unlocked.
func (s *Service) Unlock(ctx context.Context, credential identity.Credential) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, ErrAlreadyUnlocked
	}

	w, err := Unlock(ctx, credential, s.deps)
	if err != nil {
		return nil, err
	}
	s.current = w
	return w, nil
}

// Lock tears the current wallet down. Locking a locked service is a no-op.
func (s *Service) Lock() {
	s.mu.Lock()
	w := s.current
	s.current = nil
	s.mu.Unlock()

	if w != nil {
		w.Close()
	}
}

// Current returns the unlocked wallet, if any.
func (s *Service) Current() (*Wallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// Switch re-derives the identity from a stored credential reference and
// moves the unlocked wallet onto it.
func (s *Service) Switch(ctx context.Context, credentialID string) error {
	w, ok := s.Current()
	if !ok {
		return ErrLocked
	}

	record, err := s.deps.Store.GetCredential(credentialID)
	if err != nil {
		return fmt.Errorf("looking up credential %s: %w", credentialID, err)
	}
	raw, err := hex.DecodeString(record.ID)
	if err != nil {
		return fmt.Errorf("credential %s has a malformed id: %w", credentialID, err)
	}

	return w.SwitchIdentity(ctx, identity.Credential{
		ID:        raw,
		Label:     record.Label,
		CreatedAt: record.CreatedAt,
	})
}

// Credentials lists every registered credential reference, oldest first.
func (s *Service) Credentials() ([]storage.CredentialRecord, error) {
	records, err := s.deps.Store.ListCredentials()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Close locks the service for process shutdown.
func (s *Service) Close() {
	s.Lock()
}
