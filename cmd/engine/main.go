package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"binary-options-engine-go/internal/config"
	"binary-options-engine-go/internal/copytrade"
	"binary-options-engine-go/internal/database"
	"binary-options-engine-go/internal/events"
	"binary-options-engine-go/internal/logger"
	"binary-options-engine-go/internal/marketdata"
	"binary-options-engine-go/internal/pricing"
	"binary-options-engine-go/internal/server"
	"binary-options-engine-go/internal/trade"
	"binary-options-engine-go/internal/wallet"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Price state and oracle
	state := pricing.NewState()
	oracle := pricing.NewOracle(log, state, cfg.Trading.JitterFraction)

	// Seed base prices from the upstream ticker snapshot, falling back to
	// the configured values.
	restClient := marketdata.NewRestClient(&cfg.Market, log)
	marketdata.SeedBasePrices(restClient, state, cfg.Trading.Instruments, log)

	// Event bus and core services
	bus := events.NewBus(log)
	wallets := wallet.NewService(log, db)
	manager := trade.NewManager(log, db, oracle, wallets, bus,
		time.Duration(cfg.Trading.MinTimeframe)*time.Second,
		time.Duration(cfg.Trading.MaxTimeframe)*time.Second)
	scheduler := trade.NewScheduler(log, db, manager, oracle,
		time.Duration(cfg.Trading.SettleInterval)*time.Second)
	exposure := trade.NewExposure(db)

	copies := copytrade.NewService(log, db)
	propagator := copytrade.NewPropagator(log, db, copies, manager, cfg.Trading.CopyTimeframe)
	propagator.Start(bus)

	// Market-data feed
	tracker := marketdata.NewTracker(cfg.Feed.Symbol, time.Duration(cfg.Trading.AdjustWindowSecs)*time.Second)
	feed := marketdata.NewFeed(log, cfg.Feed, db, state, bus, tracker)

	// Broadcast hub and API server
	hub := server.NewHub(log)
	hub.Attach(bus)
	api := server.NewAPIServer(log, cfg.Server.Port, server.Deps{
		DB:       db,
		Manager:  manager,
		Wallets:  wallets,
		Copies:   copies,
		Oracle:   oracle,
		State:    state,
		Tracker:  tracker,
		Exposure: exposure,
		Hub:      hub,
	})

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		feed.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	api.Start()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	propagator.Stop()
	wg.Wait()
	bus.Close()

	log.Info("Engine has been shut down.")
}
