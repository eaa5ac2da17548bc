package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/denisok6893-rgb/open-house/internal/config"
	httpapi "github.com/denisok6893-rgb/open-house/internal/http"
	"github.com/denisok6893-rgb/open-house/internal/matching"
	"github.com/denisok6893-rgb/open-house/internal/storage"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "configs/config.yaml"), "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}
	tokens, err := httpapi.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	store, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	seed, err := storage.LoadTemplateFromFile(cfg.TemplatePath)
	if err != nil {
		log.Fatalf("load dream house template: %v", err)
	}

	w, err := matching.LoadWeightsFromFile(cfg.WeightsPath)
	if err != nil {
		logger.Warn("use default weights", "reason", err)
		w = matching.DefaultWeights()
	}

	srv := httpapi.NewServer(store, tokens, matching.NewEngine(w), seed, logger)
	hs := &http.Server{
		Addr:              cfg.Address,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	logger.Info("API listening", "address", cfg.Address, "db", cfg.DBPath, "template_criteria", len(seed))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
