// Package config loads service settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the API service.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string
	// AdminAddress is the wallet allowed to register issuers.
	AdminAddress string
	// DatabaseDSN selects the Postgres registry. Empty means in-memory.
	DatabaseDSN string

	// PinataJWT enables the Pinata content backend. Empty means in-memory.
	PinataJWT        string
	PinataAPIURL     string
	PinataGatewayURL string
	// ContentCacheSize bounds the read-through blob cache.
	ContentCacheSize int

	// WalletAccounts seeds the local wallet session provider.
	WalletAccounts []string

	AllowedOrigin  string
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int

	// ConfirmDelay adds artificial latency to registry writes. Demo only.
	ConfirmDelay time.Duration
}

// Load reads a .env file if present, then the CREDVAULT_* environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:             getEnv("CREDVAULT_ADDR", ":8080"),
		AdminAddress:     strings.TrimSpace(os.Getenv("CREDVAULT_ADMIN_ADDRESS")),
		DatabaseDSN:      strings.TrimSpace(os.Getenv("CREDVAULT_PG_DSN")),
		PinataJWT:        strings.TrimSpace(os.Getenv("CREDVAULT_PINATA_JWT")),
		PinataAPIURL:     getEnv("CREDVAULT_PINATA_API_URL", ""),
		PinataGatewayURL: getEnv("CREDVAULT_PINATA_GATEWAY_URL", ""),
		AllowedOrigin:    getEnv("CREDVAULT_ALLOWED_ORIGIN", ""),
	}
	if cfg.AdminAddress == "" {
		return Config{}, fmt.Errorf("config: CREDVAULT_ADMIN_ADDRESS is required")
	}

	var err error
	if cfg.ContentCacheSize, err = getInt("CREDVAULT_CONTENT_CACHE_SIZE", 256); err != nil {
		return Config{}, err
	}
	if cfg.MaxBodyBytes, err = getInt64("CREDVAULT_MAX_BODY_BYTES", 10<<20); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = getFloat("CREDVAULT_RATE_LIMIT_RPS", 25); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = getInt("CREDVAULT_RATE_LIMIT_BURST", 50); err != nil {
		return Config{}, err
	}
	if cfg.ConfirmDelay, err = getDuration("CREDVAULT_CONFIRM_DELAY", 0); err != nil {
		return Config{}, err
	}

	if raw := strings.TrimSpace(os.Getenv("CREDVAULT_WALLET_ACCOUNTS")); raw != "" {
		for _, acc := range strings.Split(raw, ",") {
			if acc = strings.TrimSpace(acc); acc != "" {
				cfg.WalletAccounts = append(cfg.WalletAccounts, acc)
			}
		}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}
