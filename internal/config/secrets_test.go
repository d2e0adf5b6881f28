package config

import "testing"

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-pass"
	cfg.Redis.Password = "redis-pass"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "bot-token"
	cfg.Server.APIKey = "admin-key"
	cfg.Relay.SecretsPassword = "vault-pass"

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"postgres password": red.Postgres.Password,
		"redis password":    red.Redis.Password,
		"s3 secret":         red.S3.SecretKey,
		"telegram token":    red.Notify.TelegramToken,
		"server api key":    red.Server.APIKey,
		"secrets password":  red.Relay.SecretsPassword,
	} {
		if got != "***" {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}

	// Empty secrets stay empty rather than turning into placeholders.
	if red.Postgres.DSN != "" || red.S3.AccessKey != "" {
		t.Fatalf("empty fields rewritten: %+v", red.Postgres)
	}

	// The original is untouched, and the redacted copy owns its slices.
	if cfg.Postgres.Password != "pg-pass" {
		t.Fatal("original mutated")
	}
	red.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Fatal("redacted copy shares the events slice")
	}
}
