package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/aftchain/internal/chain"
)

// Load decodes the TOML file at path over Defaults, reads .env if present
// and applies AFT_* environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadGenesis reads the JSON genesis file named by the chain section.
func (c *Config) LoadGenesis() (chain.Genesis, error) {
	var gen chain.Genesis
	raw, err := os.ReadFile(c.Chain.GenesisFile)
	if err != nil {
		return gen, fmt.Errorf("config: read genesis: %w", err)
	}
	if err := json.Unmarshal(raw, &gen); err != nil {
		return gen, fmt.Errorf("config: decode genesis: %w", err)
	}
	return gen, nil
}

// ChainConfig returns the consensus parameters for chain.New.
func (c *Config) ChainConfig() chain.Config {
	return chain.Config{Oracle: c.Oracle, Subject: c.Subject, Fees: c.Fees}
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Node.Name, "AFT_NODE_NAME")
	setStr(&cfg.Node.Mode, "AFT_NODE_MODE")
	setStr(&cfg.Node.BlockStream, "AFT_NODE_BLOCK_STREAM")
	setStr(&cfg.Node.ResultStream, "AFT_NODE_RESULT_STREAM")
	setStr(&cfg.Node.BlockFile, "AFT_NODE_BLOCK_FILE")
	setDuration(&cfg.Node.PollInterval, "AFT_NODE_POLL_INTERVAL")
	setDuration(&cfg.Node.LockTTL, "AFT_NODE_LOCK_TTL")
	setDuration(&cfg.Node.ArchiveInterval, "AFT_NODE_ARCHIVE_INTERVAL")
	setBool(&cfg.Node.Project, "AFT_NODE_PROJECT")
	setBool(&cfg.Node.Archive, "AFT_NODE_ARCHIVE")
	setStr(&cfg.Node.HTTPAddr, "AFT_NODE_HTTP_ADDR")
	setStr(&cfg.Node.HTTPAPIKey, "AFT_NODE_HTTP_API_KEY")

	setStr(&cfg.Chain.GenesisFile, "AFT_CHAIN_GENESIS_FILE")

	setStr(&cfg.Postgres.DSN, "AFT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AFT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AFT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AFT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AFT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AFT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AFT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "AFT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "AFT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AFT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AFT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "AFT_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "AFT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AFT_S3_REGION")
	setStr(&cfg.S3.Bucket, "AFT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AFT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AFT_S3_SECRET_KEY")

	setStr(&cfg.Notify.TelegramToken, "AFT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AFT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AFT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AFT_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "AFT_LOG_LEVEL")
	setStr(&cfg.LogFile, "AFT_LOG_FILE")

	cfg.Node.Mode = strings.ToLower(strings.TrimSpace(cfg.Node.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.Notify.Node == "" {
		cfg.Notify.Node = cfg.Node.Name
	}
}

// Each setter changes its target only when the variable is set and parses.

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
