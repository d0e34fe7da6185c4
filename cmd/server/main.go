package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glide-wallet/glide-wallet/internal/api"
	"github.com/glide-wallet/glide-wallet/internal/chains"
	"github.com/glide-wallet/glide-wallet/internal/config"
	"github.com/glide-wallet/glide-wallet/internal/eth"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/metrics"
	"github.com/glide-wallet/glide-wallet/internal/relay"
	"github.com/glide-wallet/glide-wallet/internal/router"
	"github.com/glide-wallet/glide-wallet/internal/session"
	"github.com/glide-wallet/glide-wallet/internal/storage"
	"github.com/glide-wallet/glide-wallet/internal/wallet"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.LogFormat, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Open the local data store
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open data store", "error", err, "dir", cfg.DataDir)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("opened data store", "dir", cfg.DataDir)

	registry := chains.NewRegistry(cfg.ChainRPCs)
	m := metrics.New()

	// Chain clients are dialed lazily, one per chain, on first use.
	pool := eth.NewPool(registry)
	defer pool.Close()

	rly, err := openRelay(cfg, m)
	if err != nil {
		slog.Error("failed to connect to relay", "error", err, "url", cfg.RelayURL)
		os.Exit(1)
	}
	defer rly.Close()

	// Initialize the wallet service. The wallet starts locked; everything
	// identity-scoped is constructed at unlock time.
	service, err := wallet.NewService(wallet.Deps{
		Registry: registry,
		Clients: func(ctx context.Context, chainID int64) (router.ChainClient, error) {
			return pool.Client(ctx, chainID)
		},
		Store:   store,
		Relay:   rly,
		Metrics: m,
		Metadata: session.Metadata{
			Name:        "Glide Wallet",
			Description: "Self-custodial wallet",
			URL:         "https://glidewallet.io",
		},
		ChainID:        cfg.DefaultChainID,
		SessionTTL:     cfg.SessionTTL,
		ApprovalTTL:    cfg.ApprovalTTL,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		slog.Error("failed to initialize wallet service", "error", err)
		os.Exit(1)
	}

	// Initialize API server
	server := api.NewServer(cfg, service, m)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	slog.Info("server started", "port", cfg.Port, "default_chain", cfg.DefaultChainID)

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Stop accepting requests first, then lock: locking rejects every
		// pending approval, and in-flight requests should see that answer.
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}
		service.Close()

		slog.Info("server stopped")
	}
}

// openRelay picks the pairing transport: the public relay when one is
// configured, an in-process relay otherwise. The in-process relay only
// reaches peers inside this process, which suits tests and setups where the
// wallet and the dApp share a host.
func openRelay(cfg *config.Config, m *metrics.Metrics) (relay.Relay, error) {
	if cfg.RelayURL == "" {
		slog.Info("using in-process relay")
		return relay.NewMemory(), nil
	}

	auth, err := relay.NewAuth()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := relay.Dial(ctx, relay.DialConfig{
		URL:       cfg.RelayURL,
		ProjectID: cfg.RelayProjectID,
		Auth:      auth,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("connected to relay", "url", cfg.RelayURL, "did", auth.DID())
	return client, nil
}
