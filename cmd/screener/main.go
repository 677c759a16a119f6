package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-screenerv1/config"
	"crypto-screenerv1/internal/api"
	"crypto-screenerv1/internal/cache"
	"crypto-screenerv1/internal/chart"
	"crypto-screenerv1/internal/exchange/bybit"
	"crypto-screenerv1/internal/logger"
	"crypto-screenerv1/internal/metrics"
	"crypto-screenerv1/internal/notification"
	"crypto-screenerv1/internal/screener"
	"crypto-screenerv1/internal/settings"
	sqlitestore "crypto-screenerv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[screener] starting...")

	cfg := config.Load()
	slog := logger.Init("screener", logger.ParseLevel(cfg.LogLevel))
	slog.Info("config loaded",
		"api_addr", cfg.APIAddr,
		"metrics_addr", cfg.MetricsAddr,
		"testnet", cfg.Testnet,
		"top_symbols", cfg.TopSymbols,
		"telegram", cfg.TelegramConfigured(),
	)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetTelegramConfigured(cfg.TelegramConfigured())
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Shutdown plumbing ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store ----
	os.MkdirAll("data", 0o755)
	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[screener] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.StartLivenessChecker(ctx, store.DB(), 10*time.Second)
	log.Println("[screener] sqlite store ready")

	// ---- Runtime settings ----
	settingsMgr := settings.NewManager(store, settings.Settings{
		CheckIntervalSeconds: 60,
		CooldownMinutes:      cfg.CooldownMinutes,
		ParseSpot:            cfg.ParseSpot,
		ParseFutures:         cfg.ParseFutures,
	})
	if err := settingsMgr.Load(ctx); err != nil {
		log.Fatalf("[screener] loading settings: %v", err)
	}

	// ---- Exchange ----
	rest := bybit.NewClient(bybit.ClientConfig{
		Testnet:        cfg.Testnet,
		RequestTimeout: cfg.RequestTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     cfg.RetryDelay,
	})
	stream := bybit.NewStream(cfg.Testnet)
	stream.OnDrop = func() {
		prom.DroppedTicks.Inc()
	}

	// ---- Surfaces ----
	candleCache := cache.New(0)
	hub := chart.NewHub()

	var notifier notification.Notifier
	if cfg.TelegramConfigured() {
		notifier = notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		log.Println("[screener] telegram notifier ready")
	} else {
		notifier = notification.NewLogNotifier()
		log.Println("[screener] telegram not configured, logging triggers instead")
	}

	// ---- Pipeline ----
	manager := screener.New(screener.Deps{
		Store:      store,
		Cache:      candleCache,
		Hub:        hub,
		Market:     rest,
		Stream:     stream,
		Notifier:   notifier,
		Settings:   settingsMgr,
		Metrics:    prom,
		Health:     health,
		URLFor:     bybit.TradeURL,
		CheckDelay: cfg.CheckDelay,
		TopSymbols: cfg.TopSymbols,
	})
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("[screener] pipeline start failed: %v", err)
	}

	// ---- API server ----
	apiSrv := api.NewServer(cfg.APIAddr, api.Deps{
		Store:              store,
		Cache:              candleCache,
		Hub:                hub,
		Notifier:           notifier,
		Settings:           settingsMgr,
		TelegramConfigured: cfg.TelegramConfigured(),
	})
	apiSrv.Start()

	log.Println("[screener] up: stream -> builder -> sqlite -> filters -> triggers")

	// ---- Wait for shutdown ----
	<-sigCh
	log.Println("[screener] shutdown signal received, stopping...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		log.Printf("[screener] pipeline did not stop cleanly: %v", err)
	}
	apiSrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[screener] shutdown complete.")
}
