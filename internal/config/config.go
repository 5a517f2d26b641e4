// Package config defines the top-level configuration for the darkbet engine
// and relayer and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DARKBET_* environment
// variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Chain    ChainConfig    `toml:"chain"`
	Relayer  RelayerConfig  `toml:"relayer"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds matching-engine parameters, including the confidential
// intent key material and the caller allowlists for privileged operations.
type EngineConfig struct {
	// PrivateKey is the hex-encoded 32-byte intent decryption key. If empty,
	// EncryptedKeyPath is consulted instead.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	// AllowLegacyIntents accepts intents encrypted with the keccak-XOR
	// keystream scheme in addition to the sealed X25519+AEAD envelope. The
	// legacy scheme is decryptable by any holder of the public key and exists
	// for wire compatibility only.
	AllowLegacyIntents bool `toml:"allow_legacy_intents"`

	// Resolvers are addresses allowed to resolve markets; Admins may create
	// markets and debit balances; RelayerAddr is the only address allowed to
	// credit balances.
	Resolvers   []string `toml:"resolvers"`
	Admins      []string `toml:"admins"`
	RelayerAddr string   `toml:"relayer_addr"`
}

// ChainConfig holds the collateral-chain connection parameters for the
// deposit relayer.
type ChainConfig struct {
	RPCURL        string `toml:"rpc_url"`
	PoolAddress   string `toml:"pool_address"`   // LiquidityPool contract emitting Deposited events
	StartLookback uint64 `toml:"start_lookback"` // blocks behind head on a fresh cursor
}

// RelayerConfig holds the deposit relayer's polling and retry parameters.
type RelayerConfig struct {
	Enabled      bool     `toml:"enabled"`
	StateFile    string   `toml:"state_file"`
	PollInterval duration `toml:"poll_interval"`
	MaxAttempts  int      `toml:"max_attempts"` // attempts before a pending credit is escalated
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Configured reports whether a PostgreSQL connection is configured. When it
// returns false the engine keeps its ledger in memory only.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AdminAPIKey string   `toml:"admin_api_key"`
	// AuthSkewSeconds bounds how stale a signed identity timestamp may be.
	AuthSkewSeconds int `toml:"auth_skew_seconds"`
}

// NotifyConfig holds operator alert channels. Alerts are raised for deposit
// credits stuck past their retry budget and for market resolutions.
type NotifyConfig struct {
	Enabled           bool   `toml:"enabled"`
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Events filters which alert types are delivered; empty means all.
	Events []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			AllowLegacyIntents: false,
		},
		Chain: ChainConfig{
			RPCURL:        "https://sepolia.base.org",
			StartLookback: 100,
		},
		Relayer: RelayerConfig{
			Enabled:      false,
			StateFile:    "relayer-state.json",
			PollInterval: duration{10 * time.Second},
			MaxAttempts:  5,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "darkbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Region:         "us-east-1",
			Bucket:         "darkbet-archives",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Enabled: false,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:5173"},
			AuthSkewSeconds: 300,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"relayer": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, relayer, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Every mode runs the ledger in-process; relayer mode credits it, so
	// key material is required there too.
	mode := strings.ToLower(c.Mode)
	needsEngine := validModes[mode]
	needsRelayer := mode == "relayer" || (mode == "full" && c.Relayer.Enabled)

	if needsEngine {
		if c.Engine.PrivateKey == "" && c.Engine.EncryptedKeyPath == "" {
			errs = append(errs, "engine: either private_key or encrypted_key_path must be set")
		}
		if c.Engine.EncryptedKeyPath != "" && c.Engine.KeyPassword == "" {
			errs = append(errs, "engine: key_password is required when encrypted_key_path is set")
		}
		// Postgres is optional: with neither a DSN nor a host the engine
		// keeps its ledger in memory only.
		if c.Postgres.Configured() {
			if strings.TrimSpace(c.Postgres.DSN) == "" {
				if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
					errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
				}
				if c.Postgres.Database == "" {
					errs = append(errs, "postgres: database must not be empty")
				}
			}
			if c.Postgres.PoolMaxConns < 1 {
				errs = append(errs, "postgres: pool_max_conns must be >= 1")
			}
			if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
				errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
			}
		}
	}

	if needsRelayer {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for relayer mode")
		}
		if !isHexAddress(c.Chain.PoolAddress) {
			errs = append(errs, fmt.Sprintf("chain: pool_address %q is not a valid address", c.Chain.PoolAddress))
		}
		if c.Relayer.StateFile == "" {
			errs = append(errs, "relayer: state_file must not be empty")
		}
		if c.Relayer.PollInterval.Duration <= 0 {
			errs = append(errs, "relayer: poll_interval must be positive")
		}
		if c.Relayer.MaxAttempts < 1 {
			errs = append(errs, "relayer: max_attempts must be >= 1")
		}
	}

	for _, addr := range c.Engine.Resolvers {
		if !isHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("engine: resolver %q is not a valid address", addr))
		}
	}
	for _, addr := range c.Engine.Admins {
		if !isHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("engine: admin %q is not a valid address", addr))
		}
	}
	if c.Engine.RelayerAddr != "" && !isHexAddress(c.Engine.RelayerAddr) {
		errs = append(errs, fmt.Sprintf("engine: relayer_addr %q is not a valid address", c.Engine.RelayerAddr))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Notify.Enabled {
		hasTelegram := c.Notify.TelegramToken != "" && c.Notify.TelegramChatID != ""
		hasDiscord := c.Notify.DiscordWebhookURL != ""
		if !hasTelegram && !hasDiscord {
			errs = append(errs, "notify: at least one channel (telegram token+chat_id or discord webhook) is required when enabled")
		}
		if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
			errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AuthSkewSeconds < 1 {
			errs = append(errs, "server: auth_skew_seconds must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isHexAddress reports whether s looks like a 0x-prefixed 20-byte address.
func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
