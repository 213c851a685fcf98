// Package config handles application configuration from environment variables
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL           string
	ChainID          int64
	SubmitterKey     string // Hex-encoded private key for the transfer submitter (optional, simulated chain if not set)
	RegistryContract string // Wallet-registry contract address

	// Contact vault
	VaultKey string // Hex-encoded 32-byte AES key, required

	// Recovery policy
	Threshold      int
	TimeLock       time.Duration
	MinGuardians   int
	MaxGuardians   int
	TestingEnabled bool

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

// Defaults
const (
	DefaultRPCURL       = "https://sepolia.base.org"
	DefaultChainID      = 84532 // Base Sepolia
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultThreshold    = 2
	DefaultTimeLock     = 48 * time.Hour
	DefaultMinGuardians = 3
	DefaultMaxGuardians = 10
)

// MinTimeLock is the smallest permitted recovery delay.
const MinTimeLock = time.Hour

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:           getEnv("RPC_URL", DefaultRPCURL),
		ChainID:          getEnvInt64("CHAIN_ID", DefaultChainID),
		SubmitterKey:     os.Getenv("SUBMITTER_KEY"),
		RegistryContract: os.Getenv("REGISTRY_CONTRACT"),
		VaultKey:         os.Getenv("VAULT_KEY"), // Required, no default
		Threshold:        int(getEnvInt64("RECOVERY_THRESHOLD", DefaultThreshold)),
		TimeLock:         getEnvDuration("RECOVERY_TIME_LOCK", DefaultTimeLock),
		MinGuardians:     int(getEnvInt64("MIN_GUARDIANS", DefaultMinGuardians)),
		MaxGuardians:     int(getEnvInt64("MAX_GUARDIANS", DefaultMaxGuardians)),
		TestingEnabled:   getEnvBool("RECOVERY_TESTING_ENABLED", false),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and that the
// recovery policy invariants hold.
func (c *Config) Validate() error {
	if c.VaultKey == "" {
		return fmt.Errorf("VAULT_KEY is required")
	}
	key := c.VaultKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("VAULT_KEY must be 64 hex characters (32 bytes)")
	}

	if c.SubmitterKey != "" {
		sub := c.SubmitterKey
		if len(sub) == 66 && sub[:2] == "0x" {
			sub = sub[2:]
		}
		if len(sub) != 64 {
			return fmt.Errorf("SUBMITTER_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.RegistryContract == "" {
			return fmt.Errorf("REGISTRY_CONTRACT is required when SUBMITTER_KEY is set")
		}
	}

	if c.TimeLock < MinTimeLock {
		return fmt.Errorf("RECOVERY_TIME_LOCK must be at least %s", MinTimeLock)
	}
	if c.MinGuardians < 1 || c.MaxGuardians < c.MinGuardians {
		return fmt.Errorf("guardian limits invalid: min=%d max=%d", c.MinGuardians, c.MaxGuardians)
	}
	if c.Threshold < 1 {
		return fmt.Errorf("RECOVERY_THRESHOLD must be at least 1")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ChainEnabled reports whether real on-chain submission is configured.
func (c *Config) ChainEnabled() bool {
	return c.SubmitterKey != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
