package config

import (
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://example.test/hook")
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.WebhookMaxRetries != 2 || cfg.WebhookRetryDelay != time.Second {
		t.Fatalf("retry defaults: %d %v", cfg.WebhookMaxRetries, cfg.WebhookRetryDelay)
	}
	if cfg.StorageDriver != DriverFile || cfg.StoragePath != "data/storage.json" {
		t.Fatalf("storage defaults: %s %s", cfg.StorageDriver, cfg.StoragePath)
	}
	if cfg.RedirectLimit != 3 || cfg.RedirectWindow != 10*time.Second {
		t.Fatalf("guard defaults: %d %v", cfg.RedirectLimit, cfg.RedirectWindow)
	}
	if cfg.ListenAddr != "127.0.0.1:8080" || cfg.WebhookSource != "gated-chat" {
		t.Fatalf("misc defaults: %+v", cfg)
	}
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://example.test/hook")
	t.Setenv("ACCESS_CODES", "ONE,two")
	t.Setenv("WEBHOOK_RETRY_DELAY", "250ms")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.AccessCodes) != 2 || cfg.AccessCodes[1] != "two" {
		t.Fatalf("codes: %v", cfg.AccessCodes)
	}
	if cfg.WebhookRetryDelay != 250*time.Millisecond || cfg.StorageDriver != DriverSQLite {
		t.Fatalf("overrides: %+v", cfg)
	}
}
