package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credvault.org/internal/chain"
	"credvault.org/internal/config"
	"credvault.org/internal/content"
	"credvault.org/internal/httpapi"
	"credvault.org/internal/obs"
	"credvault.org/internal/orchestrator"
	"credvault.org/internal/registry"
	"credvault.org/internal/registry/pg"
	"credvault.org/internal/stream"
	"credvault.org/internal/wallet"
)

// Overridden at build time via -ldflags.
var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Registry backend: Postgres when a DSN is configured, in-memory otherwise.
	var (
		reg     registry.Service
		pgStore *pg.Store
	)
	if cfg.DatabaseDSN != "" {
		pgStore, err = pg.Open(ctx, cfg.DatabaseDSN, cfg.AdminAddress)
		if err != nil {
			log.Fatalf("pg: %v", err)
		}
		reg = pgStore
	} else {
		reg = registry.NewInMemory(cfg.AdminAddress)
	}

	// Content backend: Pinata when credentials are present, in-memory otherwise.
	var store content.Store
	if cfg.PinataJWT != "" {
		store = content.NewPinata(cfg.PinataJWT,
			content.WithPinataEndpoints(cfg.PinataAPIURL, cfg.PinataGatewayURL))
	} else {
		store = content.NewMemory()
	}
	if cfg.ContentCacheSize > 0 {
		cached, err := content.NewCached(store, cfg.ContentCacheSize)
		if err != nil {
			log.Fatalf("content cache: %v", err)
		}
		store = cached
	}

	var chainOpts []chain.ClientOption
	if cfg.ConfirmDelay > 0 {
		chainOpts = append(chainOpts, chain.WithConfirmDelay(cfg.ConfirmDelay))
	}
	client := chain.NewClient(chainOpts...)
	broker := stream.NewBroker()
	orch := orchestrator.New(reg, store, client, broker)

	var session *wallet.Session
	if len(cfg.WalletAccounts) > 0 {
		session = wallet.NewSession(wallet.StaticProvider(cfg.WalletAccounts))
	}

	api := httpapi.New(orch, reg, session, broker, version)
	handler := httpapi.Chain(api.Routes(), cfg.MaxBodyBytes, cfg.AllowedOrigin,
		cfg.RateLimitRPS, cfg.RateLimitBurst)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting credvault-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	client.Close()
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
