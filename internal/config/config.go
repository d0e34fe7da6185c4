package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration for the bridge host.
// Chain RPC endpoints default to the built-in registry and can be
// overridden per chain with CHAIN_RPC_<id> variables.
type Config struct {
	// Server
	Port int

	// Logging
	LogFormat string
	LogLevel  string

	// Storage
	DataDir string

	// Relay. An empty RelayURL selects the in-process relay, which serves
	// single-process embedding and tests.
	RelayURL       string
	RelayProjectID string

	// Chains
	DefaultChainID int64
	ChainRPCs      map[int64]string

	// Sessions
	SessionTTL time.Duration

	// ApprovalTTL bounds how long a request may wait for the holder's
	// decision before it resolves to rejected.
	ApprovalTTL time.Duration

	// RequestTimeout bounds upstream chain RPC work per routed request.
	RequestTimeout time.Duration

	// Rate limiting for the HTTP surface
	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		DataDir:        getEnv("DATA_DIR", "./data"),
		RelayURL:       getEnv("RELAY_URL", ""),
		RelayProjectID: getEnv("RELAY_PROJECT_ID", ""),
		DefaultChainID: getEnvInt64("DEFAULT_CHAIN_ID", 1),
		ChainRPCs:      chainRPCOverrides(),
		SessionTTL:     time.Duration(getEnvInt("SESSION_TTL_HOURS", 168)) * time.Hour,
		ApprovalTTL:    getEnvDuration("APPROVAL_TTL", 5*time.Minute),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}

	if c.DefaultChainID <= 0 {
		return fmt.Errorf("DEFAULT_CHAIN_ID must be positive, got: %d", c.DefaultChainID)
	}

	if c.RelayURL != "" && !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		return fmt.Errorf("RELAY_URL must be a ws:// or wss:// URL, got: %s", c.RelayURL)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}

	if c.ApprovalTTL <= 0 {
		return fmt.Errorf("APPROVAL_TTL must be positive")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}

	return nil
}

// chainRPCOverrides collects CHAIN_RPC_<id> variables into a map keyed by
// numeric chain ID. Malformed entries are skipped.
func chainRPCOverrides() map[int64]string {
	overrides := make(map[int64]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, "CHAIN_RPC_") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, "CHAIN_RPC_"), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		overrides[id] = value
	}
	return overrides
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvInt64 gets a 64-bit integer environment variable with a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration gets a duration environment variable ("30s", "5m") with a
// default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
