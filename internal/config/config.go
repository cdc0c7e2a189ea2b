package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type StorageDriver string

const (
	DriverFile   StorageDriver = "file"
	DriverSQLite StorageDriver = "sqlite"
)

type Config struct {
	// Webhook
	WebhookURL        string        `env:"WEBHOOK_URL,required"`
	WebhookSource     string        `env:"WEBHOOK_SOURCE" envDefault:"gated-chat"`
	WebhookMaxRetries int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"2"`
	WebhookRetryDelay time.Duration `env:"WEBHOOK_RETRY_DELAY" envDefault:"1s"`

	// Access codes
	AccessCodes     []string `env:"ACCESS_CODES" envSeparator:","`
	AccessCodesFile string   `env:"ACCESS_CODES_FILE"`

	// Web surface
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	RedirectLimit  int           `env:"REDIRECT_LIMIT" envDefault:"3"`
	RedirectWindow time.Duration `env:"REDIRECT_WINDOW" envDefault:"10s"`

	// Device storage
	StorageDriver StorageDriver `env:"STORAGE_DRIVER" envDefault:"file"`
	StoragePath   string        `env:"STORAGE_PATH" envDefault:"data/storage.json"`
}

// Parse reads the configuration from the environment.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
