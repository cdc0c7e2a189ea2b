package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"gated-chat/internal/auth"
	"gated-chat/internal/chat"
	"gated-chat/internal/config"
	"gated-chat/internal/device"
	"gated-chat/internal/guard"
	"gated-chat/internal/storage"
	"gated-chat/internal/web"
	"gated-chat/internal/webhook"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	addr := pflag.String("addr", "", "listen address (overrides LISTEN_ADDR)")
	storagePath := pflag.String("storage", "", "device storage path (overrides STORAGE_PATH)")
	reset := pflag.Bool("reset", false, "start on the login view without automatic device verification")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *storagePath != "" {
		cfg.StoragePath = *storagePath
	}

	kv, closeKV, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("failed to open device storage: %v", err)
	}
	defer closeKV()

	codes, err := loadCodes(cfg)
	if err != nil {
		log.Fatalf("failed to load access codes: %v", err)
	}
	if codes.Len() == 0 {
		log.Fatalf("no access codes configured: set ACCESS_CODES or ACCESS_CODES_FILE")
	}

	engine := auth.NewEngine(codes, auth.NewStore(kv), device.NewIdentity(kv))
	if sess := engine.Restore(*reset); sess.IsAuthenticated {
		log.Printf("restored session for code %s", sess.AccessCode)
	}

	client := webhook.NewClient(cfg.WebhookURL, cfg.WebhookSource, webhook.RetryPolicy{
		MaxRetries: cfg.WebhookMaxRetries,
		Delay:      cfg.WebhookRetryDelay,
	})

	srv, err := web.New(engine, guard.New(engine, cfg.RedirectLimit, cfg.RedirectWindow), chat.NewSession(client))
	if err != nil {
		log.Fatalf("failed to create web server: %v", err)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		if err := srv.Stop(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if err := srv.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("web server: %v", err)
	}
}

func openStorage(cfg *config.Config) (storage.KV, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		kv, err := storage.OpenSQLiteKV(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { _ = kv.Close() }, nil
	case config.DriverFile, "":
		kv, err := storage.NewFileKV(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {}, nil
	default:
		return nil, nil, errors.New("unknown storage driver: " + string(cfg.StorageDriver))
	}
}

func loadCodes(cfg *config.Config) (*auth.Registry, error) {
	if cfg.AccessCodesFile != "" {
		return auth.LoadRegistryFile(cfg.AccessCodesFile, cfg.AccessCodes...)
	}
	return auth.NewRegistry(cfg.AccessCodes...), nil
}
