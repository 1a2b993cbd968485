package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	analyzerimpl "github.com/minutemanhq/minuteman/external/analyzer"
	audioimpl "github.com/minutemanhq/minuteman/external/audio"
	configloader "github.com/minutemanhq/minuteman/external/config"
	storeimpl "github.com/minutemanhq/minuteman/external/store"
	"github.com/minutemanhq/minuteman/internal/blob"
	"github.com/minutemanhq/minuteman/internal/config"
	"github.com/minutemanhq/minuteman/internal/daemon"
	"github.com/minutemanhq/minuteman/internal/session"
	"github.com/minutemanhq/minuteman/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"
)

const migrationTimeout = 30 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	runDaemon(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	storeimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	analyzerimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func runDaemon(cfg *config.Config, injector do.Injector) {
	st, err := do.Invoke[store.Store](injector)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("store close failed", "error", err)
		}
	}()

	blobs, err := do.Invoke[*blob.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve blob manager", "error", err)
		os.Exit(1)
	}
	coordinator, err := do.Invoke[*session.Coordinator](injector)
	if err != nil {
		slog.Error("failed to resolve coordinator", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), migrationTimeout)
	if err := blobs.MigrateLegacyAudio(migrateCtx); err != nil {
		slog.Error("legacy audio migration failed", "error", err)
	}
	cancelMigrate()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := daemon.NewServer(cfg.SocketPath, coordinator, st)
	done := make(chan struct{})
	go func() {
		slog.Info("startup: entering control loop")
		if err := server.Run(ctx); err != nil {
			slog.Error("control server failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
		cancel()
	case <-done:
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}
