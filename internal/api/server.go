// Package api is the host's local HTTP surface: the page bridge WebSocket,
// the approval queue, pairing and session management, wallet lifecycle,
// health, and metrics. It is a control plane for the holder's own UI. There
// is no tenant model and no remote user; anything reachable here is already
// on the holder's machine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glide-wallet/glide-wallet/internal/config"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/metrics"
	"github.com/glide-wallet/glide-wallet/internal/middleware"
	"github.com/glide-wallet/glide-wallet/internal/wallet"
)

// Server is the HTTP server in front of the wallet service.
type Server struct {
	config     *config.Config
	wallets    *wallet.Service
	metrics    *metrics.Metrics
	limiter    *middleware.RateLimiter
	log        *slog.Logger
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, wallets *wallet.Service, m *metrics.Metrics) *Server {
	return &Server{
		config:  cfg,
		wallets: wallets,
		metrics: m,
		limiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, true),
		log:     logger.Component("api"),
	}
}

// Handler assembles the route tree with the middleware chain:
// request ID → logging → rate limit → routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Page bridge. The upgrade handler does its own error writing.
	r.HandleFunc("/v1/bridge", s.handleBridge).Methods(http.MethodGet)

	// Wallet lifecycle
	r.HandleFunc("/v1/wallet", s.handleWalletStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/wallet/unlock", s.handleUnlock).Methods(http.MethodPost)
	r.HandleFunc("/v1/wallet/lock", s.handleLock).Methods(http.MethodPost)
	r.HandleFunc("/v1/wallet/switch", s.handleSwitch).Methods(http.MethodPost)
	r.HandleFunc("/v1/credentials", s.handleListCredentials).Methods(http.MethodGet)

	// Approval queue
	r.HandleFunc("/v1/approvals", s.handleOpenApproval).Methods(http.MethodGet)
	r.HandleFunc("/v1/approvals/{id}", s.handleDecideApproval).Methods(http.MethodPost)

	// Pairing and sessions
	r.HandleFunc("/v1/pair", s.handlePair).Methods(http.MethodPost)
	r.HandleFunc("/v1/proposals", s.handleListProposals).Methods(http.MethodGet)
	r.HandleFunc("/v1/proposals/{id}", s.handleDecideProposal).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{topic}", s.handleDisconnectSession).Methods(http.MethodDelete)

	return middleware.RequestID(s.logRequests(s.limiter.Limit(r)))
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the bridge endpoint holds connections open
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("listening", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logRequests logs one line per request with the status the handler chose.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := middleware.NewStatusRecorder(w)

		next.ServeHTTP(recorder, r)

		logger.FromContext(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// currentWallet resolves the unlocked wallet or answers 409 itself.
func (s *Server) currentWallet(w http.ResponseWriter) (*wallet.Wallet, bool) {
	current, ok := s.wallets.Current()
	if !ok {
		writeError(w, http.StatusConflict, "wallet_locked", "unlock the wallet first")
		return nil, false
	}
	return current, true
}

// apiError is the error body of this surface.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

// decodeBody parses a JSON request body into dst. Failures answer the
// request themselves.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "bad_request", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("malformed request body: %v", err))
		return false
	}
	return true
}
