// Package wallet assembles one unlocked wallet. Everything scoped to an
// unlock (the derived identity, the signer, the approval gate, the router,
// the bridge host, and the session manager) is built here as one explicit
// context object and torn down together on lock. There is no process-wide
// signer: a locked wallet holds no key material at all.
package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/glide-wallet/glide-wallet/internal/approval"
	"github.com/glide-wallet/glide-wallet/internal/bridge"
	"github.com/glide-wallet/glide-wallet/internal/chains"
	"github.com/glide-wallet/glide-wallet/internal/events"
	"github.com/glide-wallet/glide-wallet/internal/identity"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/metrics"
	"github.com/glide-wallet/glide-wallet/internal/relay"
	"github.com/glide-wallet/glide-wallet/internal/router"
	"github.com/glide-wallet/glide-wallet/internal/session"
	"github.com/glide-wallet/glide-wallet/internal/signer"
	"github.com/glide-wallet/glide-wallet/internal/storage"
)

// Deps carries the process-lifetime collaborators a wallet is built on.
// They outlive any single unlock: locking the wallet releases the key and
// the transports, never the storage or the chain clients.
type Deps struct {
	Registry *chains.Registry
	Clients  func(ctx context.Context, chainID int64) (router.ChainClient, error)
	Store    storage.Store
	Relay    relay.Relay
	Metrics  *metrics.Metrics

	// Metadata names this wallet to remote session peers.
	Metadata session.Metadata

	// ChainID is the chain the wallet wakes up on.
	ChainID int64

	// SessionTTL bounds approved session lifetimes. Zero selects the
	// session manager's default.
	SessionTTL time.Duration

	// ApprovalTTL bounds how long a request waits for the holder before
	// resolving to rejected. Zero waits indefinitely.
	ApprovalTTL time.Duration

	// RequestTimeout bounds upstream chain RPC work per routed request.
	// Zero leaves the request context in charge.
	RequestTimeout time.Duration

	// OnApproval fires after every gate transition with the open ticket
	// (nil when idle) and the queue depth.
	OnApproval func(open *approval.Ticket, queued int)
	// OnProposal pushes a fresh pairing proposal to the holder.
	OnProposal func(session.Proposal)
	// OnSessionsChanged tells the holder the session list changed.
	OnSessionsChanged func()
}

func (d Deps) validate() error {
	if d.Registry == nil {
		return fmt.Errorf("wallet: chain registry is required")
	}
	if d.Clients == nil {
		return fmt.Errorf("wallet: chain client source is required")
	}
	if d.Store == nil {
		return fmt.Errorf("wallet: store is required")
	}
	if d.Relay == nil {
		return fmt.Errorf("wallet: relay is required")
	}
	return nil
}

// Wallet is the context object for one unlock lifetime.
type Wallet struct {
	deps Deps
	log  *slog.Logger

	gate     *approval.Gate
	bus      *events.Bus
	router   *router.Router
	host     *bridge.Host
	sessions *session.Manager

	mu         sync.Mutex
	id         *identity.Identity
	signer     *signer.Signer
	credential storage.CredentialRecord

	closeOnce sync.Once
}

// Unlock derives the identity for a credential and assembles the wallet
// around it. The credential reference is registered in the store so the
// holder can switch back to it later; the raw bytes are never persisted
// beyond their identifier.
func Unlock(ctx context.Context, credential identity.Credential, deps Deps) (*Wallet, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	id, err := identity.Derive(credential.ID)
	if err != nil {
		return nil, fmt.Errorf("deriving identity: %w", err)
	}

	record, err := registerCredential(deps.Store, credential)
	if err != nil {
		id.Zero()
		return nil, fmt.Errorf("registering credential: %w", err)
	}

	w := &Wallet{
		deps:       deps,
		log:        logger.Component("wallet"),
		id:         id,
		signer:     signer.New(id),
		bus:        events.NewBus(),
		credential: record,
	}
	w.gate = approval.NewGate(func(open *approval.Ticket, queued int) {
		deps.Metrics.SetApprovalQueue(queued)
		if deps.OnApproval != nil {
			deps.OnApproval(open, queued)
		}
	})

	w.router, err = router.New(router.Config{
		Signer:      w.signer,
		Gate:        w.gate,
		Registry:    deps.Registry,
		Bus:         w.bus,
		Clients:     deps.Clients,
		ChainID:     deps.ChainID,
		Metrics:     deps.Metrics,
		ApprovalTTL: deps.ApprovalTTL,
		CallTimeout: deps.RequestTimeout,
	})
	if err != nil {
		w.gate.Close()
		_ = w.bus.Close()
		id.Zero()
		return nil, err
	}

	w.host = bridge.NewHost(w.router, w.bus, deps.Metrics)

	w.sessions, err = session.New(ctx, session.Config{
		Relay:             deps.Relay,
		Handler:           w.router,
		Registry:          deps.Registry,
		Store:             deps.Store,
		Bus:               w.bus,
		Metadata:          deps.Metadata,
		Metrics:           deps.Metrics,
		TTL:               deps.SessionTTL,
		OnProposal:        deps.OnProposal,
		OnSessionsChanged: deps.OnSessionsChanged,
	})
	if err != nil {
		w.router.Shutdown()
		w.host.Close()
		w.gate.Close()
		_ = w.bus.Close()
		id.Zero()
		return nil, fmt.Errorf("starting session manager: %w", err)
	}

	w.log.Info("wallet unlocked",
		"address", id.Address().Hex(),
		"chain", deps.ChainID,
		"credential", record.Label,
	)
	return w, nil
}

// Address returns the active signing address.
func (w *Wallet) Address() common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id.Address()
}

// Credential returns the reference of the credential behind the active
// identity.
func (w *Wallet) Credential() storage.CredentialRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credential
}

// ActiveChain returns the chain the wallet currently operates on.
func (w *Wallet) ActiveChain() int64 {
	return w.router.ActiveChain()
}

// Network returns the active network descriptor.
func (w *Wallet) Network() chains.Network {
	return w.router.Network()
}

// Gate exposes the approval gate to the presentation layer.
func (w *Wallet) Gate() *approval.Gate {
	return w.gate
}

// Host exposes the bridge host so transports can attach channels.
func (w *Wallet) Host() *bridge.Host {
	return w.host
}

// Sessions exposes the session manager for pairing and session control.
func (w *Wallet) Sessions() *session.Manager {
	return w.sessions
}

// SwitchIdentity re-derives from another credential and moves the live
// wallet onto it. Pages learn through accountsChanged; active remote
// sessions are rescoped and told the same way, none are torn down. The
// previous key is wiped immediately, so a signature racing the switch
// fails rather than signing with an identity the holder just left.
func (w *Wallet) SwitchIdentity(ctx context.Context, credential identity.Credential) error {
	next, err := identity.Derive(credential.ID)
	if err != nil {
		return fmt.Errorf("deriving identity: %w", err)
	}

	record, err := registerCredential(w.deps.Store, credential)
	if err != nil {
		next.Zero()
		return fmt.Errorf("registering credential: %w", err)
	}

	nextSigner := signer.New(next)

	w.mu.Lock()
	previous := w.id
	w.id = next
	w.signer = nextSigner
	w.credential = record
	w.mu.Unlock()

	w.router.SetIdentity(nextSigner)
	previous.Zero()

	if err := w.sessions.UpdateAccount(ctx, next.Address().Hex()); err != nil {
		return fmt.Errorf("propagating account change to sessions: %w", err)
	}

	w.log.Info("identity switched", "address", next.Address().Hex(), "credential", record.Label)
	return nil
}

// Close locks the wallet: transports are told the provider is going away,
// channels drain, pending approvals resolve to rejected, and the key
// material is wiped. Safe to call more than once.
func (w *Wallet) Close() {
	w.closeOnce.Do(func() {
		w.router.Shutdown()
		w.host.Close()
		if err := w.sessions.Close(); err != nil {
			w.log.Warn("closing session manager", "error", err)
		}
		w.gate.Close()
		_ = w.bus.Close()

		w.mu.Lock()
		w.id.Zero()
		w.mu.Unlock()

		w.log.Info("wallet locked")
	})
}

// registerCredential upserts the credential reference. An already-known
// credential keeps its original creation time; a non-empty label wins over
// the stored one.
func registerCredential(store storage.Store, credential identity.Credential) (storage.CredentialRecord, error) {
	record := storage.CredentialRecord{
		ID:        hex.EncodeToString(credential.ID),
		Label:     credential.Label,
		CreatedAt: credential.CreatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	if existing, err := store.GetCredential(record.ID); err == nil {
		record.CreatedAt = existing.CreatedAt
		if record.Label == "" {
			record.Label = existing.Label
		}
	}
	if record.Label == "" {
		record.Label = "account " + record.ID[:min(8, len(record.ID))]
	}

	if err := store.PutCredential(record); err != nil {
		return storage.CredentialRecord{}, err
	}
	return record, nil
}
