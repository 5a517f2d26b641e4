package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validAddr = "0x1111111111111111111111111111111111111111"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsApplyWhenFileIsMinimal(t *testing.T) {
	path := writeConfig(t, `
mode = "engine"

[engine]
private_key = "abc123"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Mode != "engine" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default = %q, want info", cfg.LogLevel)
	}
	if cfg.Postgres.Port != 5432 || cfg.Postgres.PoolMaxConns != 10 {
		t.Errorf("postgres defaults not applied: %+v", cfg.Postgres)
	}
	if cfg.Relayer.PollInterval.Duration != 10*time.Second {
		t.Errorf("poll_interval default = %v", cfg.Relayer.PollInterval.Duration)
	}
	if cfg.Server.Port != 8000 || !cfg.Server.Enabled {
		t.Errorf("server defaults not applied: %+v", cfg.Server)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "relayer"
log_level = "debug"

[engine]
private_key = "abc123"

[chain]
rpc_url = "wss://example.invalid"
pool_address = "`+validAddr+`"

[relayer]
enabled = true
state_file = "/var/lib/darkbet/state.json"
poll_interval = "30s"
max_attempts = 7

[server]
port = 9090
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Relayer.PollInterval.Duration != 30*time.Second {
		t.Errorf("poll_interval = %v, want 30s", cfg.Relayer.PollInterval.Duration)
	}
	if cfg.Relayer.MaxAttempts != 7 {
		t.Errorf("max_attempts = %d", cfg.Relayer.MaxAttempts)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid relayer config rejected: %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
mode = "engine"

[engine]
private_key = "from-file"

[postgres]
host = "db.internal"
`)
	t.Setenv("DARKBET_ENGINE_PRIVATE_KEY", "from-env")
	t.Setenv("DARKBET_POSTGRES_PORT", "6432")
	t.Setenv("DARKBET_SERVER_ENABLED", "false")
	t.Setenv("DARKBET_ENGINE_RESOLVERS", validAddr+" , "+validAddr)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Engine.PrivateKey != "from-env" {
		t.Errorf("private_key = %q, env should win over file", cfg.Engine.PrivateKey)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("host = %q, file value should survive", cfg.Postgres.Host)
	}
	if cfg.Postgres.Port != 6432 {
		t.Errorf("port = %d, want env override 6432", cfg.Postgres.Port)
	}
	if cfg.Server.Enabled {
		t.Error("server.enabled should be overridden to false")
	}
	if len(cfg.Engine.Resolvers) != 2 || cfg.Engine.Resolvers[0] != validAddr {
		t.Errorf("resolvers = %v", cfg.Engine.Resolvers)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sideways"
	cfg.LogLevel = "loud"
	cfg.Engine.Resolvers = []string{"not-an-address"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"unknown mode", "unknown log_level", "not-an-address"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %s", want, msg)
		}
	}
}

func TestValidate_EngineRequiresKeyMaterial(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "engine"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "private_key or encrypted_key_path") {
		t.Fatalf("err = %v", err)
	}

	cfg.Engine.EncryptedKeyPath = "/etc/darkbet/key.json"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("err = %v", err)
	}

	cfg.Engine.KeyPassword = "hunter2"
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete engine config rejected: %v", err)
	}
}

func TestValidate_MemoryOnlyEngineSkipsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "engine"
	cfg.Engine.PrivateKey = "abc123"

	// No DSN and no host means the ledger stays in memory; the remaining
	// postgres fields must not be validated in that case.
	cfg.Postgres.DSN = ""
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.PoolMaxConns = 0

	if cfg.Postgres.Configured() {
		t.Fatal("empty postgres config reported as configured")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory-only engine config rejected: %v", err)
	}

	// Setting a host back makes the connection parameters load-bearing again.
	cfg.Postgres.Host = "localhost"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_NotifyRequiresChannel(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.PrivateKey = "abc123"
	cfg.Notify.Enabled = true

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "notify") {
		t.Fatalf("err = %v", err)
	}

	cfg.Notify.TelegramToken = "12345:token"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "telegram_chat_id") {
		t.Fatalf("err = %v", err)
	}

	cfg.Notify.TelegramChatID = "-100200300"
	if err := cfg.Validate(); err != nil {
		t.Errorf("telegram-only notify config rejected: %v", err)
	}

	cfg.Notify.TelegramToken = ""
	cfg.Notify.TelegramChatID = ""
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/1/abc"
	if err := cfg.Validate(); err != nil {
		t.Errorf("discord-only notify config rejected: %v", err)
	}
}

func TestValidate_RelayerModeRequiresChain(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "relayer"
	cfg.Engine.PrivateKey = "abc123"
	cfg.Chain.RPCURL = ""
	cfg.Chain.PoolAddress = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"rpc_url", "pool_address"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}

	cfg.Chain.RPCURL = "wss://example.invalid"
	cfg.Chain.PoolAddress = validAddr
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete relayer config rejected: %v", err)
	}
}

func TestValidate_RedisAndS3OnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "relayer"
	cfg.Engine.PrivateKey = "abc123"
	cfg.Chain.PoolAddress = validAddr
	cfg.Redis.Addr = ""
	cfg.S3.Bucket = ""

	// Disabled subsystems are not validated.
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled subsystems should not be checked: %v", err)
	}

	cfg.Redis.Enabled = true
	cfg.S3.Enabled = true
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"redis: addr", "s3: bucket"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}
