package api

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/glide-wallet/glide-wallet/internal/chains"
	"github.com/glide-wallet/glide-wallet/internal/identity"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/storage"
	"github.com/glide-wallet/glide-wallet/internal/wallet"
)

type unlockRequest struct {
	// Credential is the authenticator credential id, hex encoded.
	Credential string `json:"credential"`
	Label      string `json:"label,omitempty"`
}

type switchRequest struct {
	// ID is a stored credential reference id, hex encoded.
	ID string `json:"id"`
}

type walletStatusResponse struct {
	Locked     bool                      `json:"locked"`
	Address    string                    `json:"address,omitempty"`
	ChainID    string                    `json:"chainId,omitempty"`
	Network    string                    `json:"network,omitempty"`
	Credential *storage.CredentialRecord `json:"credential,omitempty"`
}

// handleWalletStatus reports whether a wallet is unlocked and, when it is,
// which identity and chain it sits on.
func (s *Server) handleWalletStatus(w http.ResponseWriter, _ *http.Request) {
	current, ok := s.wallets.Current()
	if !ok {
		writeJSON(w, http.StatusOK, walletStatusResponse{Locked: true})
		return
	}

	credential := current.Credential()
	writeJSON(w, http.StatusOK, walletStatusResponse{
		Locked:     false,
		Address:    current.Address().Hex(),
		ChainID:    chains.FormatChainID(current.ActiveChain()),
		Network:    current.Network().Name,
		Credential: &credential,
	})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decodeBody(w, r, &req) {
		return
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(req.Credential, "0x"))
	if err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "credential must be non-empty hex")
		return
	}

	unlocked, err := s.wallets.Unlock(r.Context(), identity.Credential{ID: raw, Label: req.Label})
	if err != nil {
		if errors.Is(err, wallet.ErrAlreadyUnlocked) {
			writeError(w, http.StatusConflict, "already_unlocked", "lock the wallet before unlocking another identity")
			return
		}
		logger.FromContext(r.Context()).Error("unlock failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unlock failed")
		return
	}

	writeJSON(w, http.StatusOK, walletStatusResponse{
		Locked:  false,
		Address: unlocked.Address().Hex(),
		ChainID: chains.FormatChainID(unlocked.ActiveChain()),
		Network: unlocked.Network().Name,
	})
}

func (s *Server) handleLock(w http.ResponseWriter, _ *http.Request) {
	s.wallets.Lock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "credential id is required")
		return
	}

	if err := s.wallets.Switch(r.Context(), req.ID); err != nil {
		switch {
		case errors.Is(err, wallet.ErrLocked):
			writeError(w, http.StatusConflict, "wallet_locked", "unlock the wallet first")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "no such credential")
		default:
			logger.FromContext(r.Context()).Error("identity switch failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "identity switch failed")
		}
		return
	}

	current, _ := s.wallets.Current()
	writeJSON(w, http.StatusOK, walletStatusResponse{
		Locked:  false,
		Address: current.Address().Hex(),
		ChainID: chains.FormatChainID(current.ActiveChain()),
		Network: current.Network().Name,
	})
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	records, err := s.wallets.Credentials()
	if err != nil {
		logger.FromContext(r.Context()).Error("listing credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "listing credentials failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": records})
}
