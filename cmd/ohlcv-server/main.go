package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ohlcv-server/internal/collect"
	"ohlcv-server/internal/config"
	"ohlcv-server/internal/market"
	"ohlcv-server/internal/market/binance"
	"ohlcv-server/internal/market/polygon"
	"ohlcv-server/internal/ohlcv"
	"ohlcv-server/internal/platform/sqlite"
	barrepo "ohlcv-server/internal/repository/bar"
	"ohlcv-server/internal/server"
)

func main() {
	cfg := config.Load()

	// Root context: cancelled on SIGINT/SIGTERM so in-flight provider
	// fetches stop promptly during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Open database
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Bar cache on top of sqlite
	cache := ohlcv.NewCache(barrepo.NewRepository(db.DB))

	// Market registry
	markets := market.NewRegistry()
	markets.Register(binance.New(cfg.BinanceAPIKey, cfg.BinanceAPISecret, binance.WithWorkers(cfg.Workers)))
	if cfg.PolygonAPIKey != "" {
		markets.Register(polygon.New(cfg.PolygonAPIKey, cfg.PolygonTickers))
	}

	// Load symbol tables. A venue that fails to initialize stays registered
	// but empty; requests against it fail per asset, not the whole process.
	for _, m := range markets.List() {
		initCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
		if err := m.Init(initCtx); err != nil {
			slog.Error("market init failed", "market", m.ID(), "error", err)
		}
		cancel()
	}

	// Backfill registry: jobs outlive the request that started them.
	collector := collect.NewRegistry(cache,
		collect.WithBatchSize(cfg.BatchSize),
		collect.WithPause(time.Duration(cfg.CollectPauseMS)*time.Millisecond),
	)

	// HTTP server — rootCtx is used as BaseContext so every request context
	// inherits from it and is cancelled on shutdown.
	srv := server.New(rootCtx, cfg.Port, markets, cache, collector)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	<-done

	// Cancel root context first so in-flight requests begin winding down
	// immediately.
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop backfill jobs before closing the database they write to.
	if err := collector.Shutdown(shutdownCtx); err != nil {
		slog.Error("collector shutdown error", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
