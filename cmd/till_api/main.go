package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/till-ledger/internal/api_gateway"
	"github.com/till-ledger/internal/app"
	"github.com/till-ledger/internal/config"
	"github.com/till-ledger/internal/logger"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("till")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting till API",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"terminal_id", cfg.Application.TerminalID,
		"remote_backend", cfg.Remote.Backend,
	)

	till, err := app.New(appCtx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize till", "error", err)
		os.Exit(1)
	}

	server := api_gateway.NewServer(log, cfg, api_gateway.Services{
		Sessions:     till.Sessions,
		Credit:       till.Ledger,
		Sync:         till.Engine,
		Queue:        till.Queue,
		Connectivity: till.Monitor,
	})
	log.Info("REST server initialized")

	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	// Prober, sync engine and the sync event consumer
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := till.Run(appCtx); err != nil {
			errChan <- fmt.Errorf("background services error: %w", err)
		}
	}()

	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var runErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		runErr = err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Stop taking requests before the stores underneath go away
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
		runErr = err
	}

	cancelAppCtx()

	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()
	select {
	case <-wgChan:
		log.Info("Background services stopped")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if err := till.Close(shutdownCtx); err != nil {
		log.Error("Error releasing till resources", "error", err)
		runErr = err
	}

	if runErr != nil {
		log.Error("Till API shutdown completed with errors")
		os.Exit(1)
	}
	log.Info("Till API shutdown completed successfully")
}
