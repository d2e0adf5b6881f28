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
// built-in defaults, applies COPYRELAY_* environment variable overrides, and
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

// applyEnvOverrides reads well-known COPYRELAY_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "COPYRELAY_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "COPYRELAY_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.PingPath, "COPYRELAY_EXCHANGE_PING_PATH")
	setStr(&cfg.Exchange.QuoteAsset, "COPYRELAY_EXCHANGE_QUOTE_ASSET")
	setStringSlice(&cfg.Exchange.BlackSymbols, "COPYRELAY_EXCHANGE_BLACK_SYMBOLS")
	setDuration(&cfg.Exchange.SpecTTL, "COPYRELAY_EXCHANGE_SPEC_TTL")
	setDuration(&cfg.Exchange.PingInterval, "COPYRELAY_EXCHANGE_PING_INTERVAL")
	setDuration(&cfg.Exchange.PingRetry, "COPYRELAY_EXCHANGE_PING_RETRY")
	setInt(&cfg.Exchange.PingFailLimit, "COPYRELAY_EXCHANGE_PING_FAIL_LIMIT")
	setDuration(&cfg.Exchange.SessionTTL, "COPYRELAY_EXCHANGE_SESSION_TTL")
	setBool(&cfg.Exchange.RequireProxy, "COPYRELAY_EXCHANGE_REQUIRE_PROXY")

	// ── Relay ──
	setStr(&cfg.Relay.AccountsPath, "COPYRELAY_RELAY_ACCOUNTS_PATH")
	setInt(&cfg.Relay.FallbackLeverage, "COPYRELAY_RELAY_FALLBACK_LEVERAGE")
	setInt(&cfg.Relay.FallbackMarginMode, "COPYRELAY_RELAY_FALLBACK_MARGIN_MODE")
	setInt(&cfg.Relay.QueueSize, "COPYRELAY_RELAY_QUEUE_SIZE")
	setBool(&cfg.Relay.Report, "COPYRELAY_RELAY_REPORT")
	setDuration(&cfg.Relay.UILogTTL, "COPYRELAY_RELAY_UI_LOG_TTL")
	setStr(&cfg.Relay.SecretsPassword, "COPYRELAY_RELAY_SECRETS_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COPYRELAY_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COPYRELAY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COPYRELAY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYRELAY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYRELAY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYRELAY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYRELAY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYRELAY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COPYRELAY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COPYRELAY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COPYRELAY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COPYRELAY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COPYRELAY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYRELAY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYRELAY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYRELAY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYRELAY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYRELAY_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "COPYRELAY_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COPYRELAY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COPYRELAY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYRELAY_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYRELAY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYRELAY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYRELAY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPYRELAY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPYRELAY_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.FlushInterval, "COPYRELAY_S3_FLUSH_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYRELAY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYRELAY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYRELAY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYRELAY_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPYRELAY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COPYRELAY_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "COPYRELAY_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "COPYRELAY_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "COPYRELAY_LOG_LEVEL")
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
