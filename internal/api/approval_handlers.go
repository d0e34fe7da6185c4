package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/glide-wallet/glide-wallet/internal/approval"
)

type approvalQueueResponse struct {
	Open   *approval.Ticket `json:"open"`
	Queued int              `json:"queued"`
}

type decisionRequest struct {
	Approve bool `json:"approve"`
}

// handleOpenApproval reports the single ticket awaiting the holder plus the
// number still queued behind it.
func (s *Server) handleOpenApproval(w http.ResponseWriter, _ *http.Request) {
	current, ok := s.currentWallet(w)
	if !ok {
		return
	}

	gate := current.Gate()
	open, _ := gate.Open()
	writeJSON(w, http.StatusOK, approvalQueueResponse{Open: open, Queued: gate.Depth()})
}

// handleDecideApproval resolves the open ticket. Only the open ticket may
// be decided; queued ones wait their turn.
func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	current, ok := s.currentWallet(w)
	if !ok {
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "ticket id must be a UUID")
		return
	}

	var req decisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := current.Gate().Decide(id, req.Approve); err != nil {
		switch {
		case errors.Is(err, approval.ErrUnknownTicket):
			writeError(w, http.StatusNotFound, "not_found", "no such ticket")
		case errors.Is(err, approval.ErrNotOpen):
			writeError(w, http.StatusConflict, "conflict", "ticket is queued; only the open ticket can be decided")
		case errors.Is(err, approval.ErrGateClosed):
			writeError(w, http.StatusConflict, "wallet_locked", "the wallet locked while the ticket was pending")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "deciding ticket failed")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
