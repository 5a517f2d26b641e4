package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DARKBET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DARKBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.PrivateKey, "DARKBET_ENGINE_PRIVATE_KEY")
	setStr(&cfg.Engine.EncryptedKeyPath, "DARKBET_ENGINE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Engine.KeyPassword, "DARKBET_ENGINE_KEY_PASSWORD")
	setBool(&cfg.Engine.AllowLegacyIntents, "DARKBET_ENGINE_ALLOW_LEGACY_INTENTS")
	setStringSlice(&cfg.Engine.Resolvers, "DARKBET_ENGINE_RESOLVERS")
	setStringSlice(&cfg.Engine.Admins, "DARKBET_ENGINE_ADMINS")
	setStr(&cfg.Engine.RelayerAddr, "DARKBET_ENGINE_RELAYER_ADDR")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "DARKBET_CHAIN_RPC_URL")
	setStr(&cfg.Chain.PoolAddress, "DARKBET_CHAIN_POOL_ADDRESS")
	setUint64(&cfg.Chain.StartLookback, "DARKBET_CHAIN_START_LOOKBACK")

	// ── Relayer ──
	setBool(&cfg.Relayer.Enabled, "DARKBET_RELAYER_ENABLED")
	setStr(&cfg.Relayer.StateFile, "DARKBET_RELAYER_STATE_FILE")
	setDuration(&cfg.Relayer.PollInterval, "DARKBET_RELAYER_POLL_INTERVAL")
	setInt(&cfg.Relayer.MaxAttempts, "DARKBET_RELAYER_MAX_ATTEMPTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DARKBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DARKBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DARKBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DARKBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DARKBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DARKBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DARKBET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DARKBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DARKBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DARKBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DARKBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DARKBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DARKBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DARKBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DARKBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DARKBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DARKBET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DARKBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DARKBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DARKBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "DARKBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DARKBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DARKBET_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "DARKBET_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setBool(&cfg.Notify.Enabled, "DARKBET_NOTIFY_ENABLED")
	setStr(&cfg.Notify.TelegramToken, "DARKBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DARKBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DARKBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DARKBET_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DARKBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DARKBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DARKBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "DARKBET_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.AuthSkewSeconds, "DARKBET_SERVER_AUTH_SKEW_SECONDS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DARKBET_MODE")
	setStr(&cfg.LogLevel, "DARKBET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
