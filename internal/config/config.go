// Package config defines the top-level configuration for the copy-trading
// relay and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPYRELAY_* environment variables.
// Account credentials live in the accounts file (see Relay.AccountsPath), not
// here; this file carries everything else.
type Config struct {
	Exchange Exchange       `toml:"exchange"`
	Relay    RelayConfig    `toml:"relay"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	LogLevel string         `toml:"log_level"`
}

// Exchange holds the exchange endpoints and health-check parameters.
type Exchange struct {
	BaseURL      string   `toml:"base_url"`
	WsURL        string   `toml:"ws_url"`
	PingPath     string   `toml:"ping_path"`
	QuoteAsset   string   `toml:"quote_asset"`
	BlackSymbols []string `toml:"black_symbols"` // raw symbols never relayed

	SpecTTL       duration `toml:"spec_ttl"`       // instrument list refresh period
	PingInterval  duration `toml:"ping_interval"`  // session health-check period
	PingRetry     duration `toml:"ping_retry"`     // delay between fast retries
	PingFailLimit int      `toml:"ping_fail_limit"`
	SessionTTL    duration `toml:"session_ttl"` // max wait for a session to come up
	RequireProxy  bool     `toml:"require_proxy"`
}

// RelayConfig holds the copy-path parameters.
type RelayConfig struct {
	AccountsPath       string   `toml:"accounts_path"` // JSON account records
	FallbackLeverage   int      `toml:"fallback_leverage"`
	FallbackMarginMode int      `toml:"fallback_margin_mode"` // 1 isolated, 2 cross
	QueueSize          int      `toml:"queue_size"`
	Report             bool     `toml:"report"` // realized-PnL reporting on close
	UILogTTL           duration `toml:"ui_log_ttl"`

	// Optional encrypted secrets file; when set, api_secret values in the
	// accounts file are ciphertext decrypted with this password.
	SecretsPassword string `toml:"secrets_password"`
}

// PostgresConfig holds the optional report-journal database.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds the optional signal-bus connection.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds the optional event-archive object storage.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	FlushInterval  duration `toml:"flush_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the optional admin HTTP API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"` // empty disables authentication
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "50s", "150ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "15s" or "150ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the relay ships with.
func Defaults() Config {
	return Config{
		Exchange: Exchange{
			BaseURL:       "https://contract.mexc.com",
			WsURL:         "wss://contract.mexc.com/edge",
			PingPath:      "/api/v1/contract/ping",
			QuoteAsset:    "USDT",
			BlackSymbols:  []string{},
			SpecTTL:       duration{15 * time.Second},
			PingInterval:  duration{50 * time.Second},
			PingRetry:     duration{150 * time.Millisecond},
			PingFailLimit: 3,
			SessionTTL:    duration{30 * time.Second},
			RequireProxy:  false,
		},
		Relay: RelayConfig{
			AccountsPath:       "copies.json",
			FallbackLeverage:   5,
			FallbackMarginMode: 2,
			QueueSize:          1000,
			Report:             true,
			UILogTTL:           duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "copyrelay",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copyrelay-data",
			UseSSL:         false,
			ForcePathStyle: true,
			FlushInterval:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"order_executed", "order_failed", "position_closed", "error"},
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8080,
		},
		LogLevel: "info",
	}
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.WsURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if c.Exchange.QuoteAsset == "" {
		errs = append(errs, "exchange: quote_asset must not be empty")
	}
	if c.Exchange.SpecTTL.Duration <= 0 {
		errs = append(errs, "exchange: spec_ttl must be positive")
	}
	if c.Exchange.PingInterval.Duration <= 0 {
		errs = append(errs, "exchange: ping_interval must be positive")
	}
	if c.Exchange.PingFailLimit < 1 {
		errs = append(errs, "exchange: ping_fail_limit must be >= 1")
	}
	if c.Exchange.SessionTTL.Duration <= 0 {
		errs = append(errs, "exchange: session_ttl must be positive")
	}

	// Relay
	if c.Relay.AccountsPath == "" {
		errs = append(errs, "relay: accounts_path must not be empty")
	}
	if c.Relay.FallbackLeverage < 1 {
		errs = append(errs, "relay: fallback_leverage must be >= 1")
	}
	if c.Relay.FallbackMarginMode != 1 && c.Relay.FallbackMarginMode != 2 {
		errs = append(errs, fmt.Sprintf("relay: fallback_margin_mode must be 1 (isolated) or 2 (cross), got %d", c.Relay.FallbackMarginMode))
	}
	if c.Relay.QueueSize < 1 {
		errs = append(errs, "relay: queue_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
