package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/session"
)

type pairRequest struct {
	URI string `json:"uri"`
}

// handlePair opens a pairing from a wc: URI the holder pasted or scanned.
// The proposal arrives asynchronously over the relay.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	current, ok := s.currentWallet(w)
	if !ok {
		return
	}

	var req pairRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := session.ParseURI(req.URI); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := current.Sessions().Pair(r.Context(), req.URI); err != nil {
		logger.FromContext(r.Context()).Error("pairing failed", "error", err)
		writeError(w, http.StatusBadGateway, "relay_error", "could not reach the relay")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListProposals(w http.ResponseWriter, _ *http.Request) {
	current, ok := s.currentWallet(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": current.Sessions().Proposals()})
}

// handleDecideProposal approves or rejects a pending session proposal.
// Approval settles the session and returns it; rejection answers the dApp
// and returns nothing.
func (s *Server) handleDecideProposal(w http.ResponseWriter, r *http.Request) {
	current, ok := s.currentWallet(w)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "proposal id must be an integer")
		return
	}

	var req decisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !req.Approve {
		if err := current.Sessions().Reject(r.Context(), id); err != nil {
			if errors.Is(err, session.ErrUnknownProposal) {
				writeError(w, http.StatusNotFound, "not_found", "no such proposal")
				return
			}
			logger.FromContext(r.Context()).Error("rejecting proposal", "error", err)
			writeError(w, http.StatusBadGateway, "relay_error", "could not answer the dApp")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	settled, err := current.Sessions().Approve(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrUnknownProposal):
			writeError(w, http.StatusNotFound, "not_found", "no such proposal")
		case errors.Is(err, session.ErrUnsatisfiable):
			// The proposal stays pending; the holder can still reject it.
			writeError(w, http.StatusConflict, "unsatisfiable", err.Error())
		default:
			logger.FromContext(r.Context()).Error("approving proposal", "error", err)
			writeError(w, http.StatusBadGateway, "relay_error", "could not settle the session")
		}
		return
	}

	writeJSON(w, http.StatusOK, settled)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	current, ok := s.currentWallet(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": current.Sessions().Sessions()})
}

func (s *Server) handleDisconnectSession(w http.ResponseWriter, r *http.Request) {
	current, ok := s.currentWallet(w)
	if !ok {
		return
	}

	topic := mux.Vars(r)["topic"]
	if err := current.Sessions().Disconnect(r.Context(), topic); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, "not_found", "no such session")
			return
		}
		logger.FromContext(r.Context()).Error("disconnecting session", "topic", topic, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "disconnect failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
