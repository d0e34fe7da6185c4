package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/glide-wallet/glide-wallet/internal/bridge"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/router"
)

// Pages from any origin may attach: the origin is recorded and shown to the
// holder on every approval prompt, it is not an access control.
var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleBridge upgrades the connection and hands it to the bridge host as a
// live channel. The HTTP handler returns immediately; the channel lives
// until the socket dies or the wallet locks.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	current, ok := s.currentWallet(w)
	if !ok {
		return
	}

	origin := router.Origin{
		Transport: "websocket",
		Name:      r.URL.Query().Get("origin"),
		URL:       r.Header.Get("Origin"),
	}
	if origin.Name == "" {
		origin.Name = origin.URL
	}
	if origin.Name == "" {
		origin.Name = "page"
	}

	conn, err := bridgeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		logger.FromContext(r.Context()).Debug("bridge upgrade failed", "error", err)
		return
	}

	endpoint := bridge.NewWSEndpoint(conn)
	if err := current.Host().Attach(endpoint, origin); err != nil {
		logger.FromContext(r.Context()).Warn("attaching bridge channel", "origin", origin.Name, "error", err)
		_ = endpoint.Close()
	}
}
