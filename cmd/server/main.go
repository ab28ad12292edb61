package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/supplement-advisor-server/internal/api"
	"github.com/supplement-advisor-server/internal/app"
	"github.com/supplement-advisor-server/internal/config"
	"github.com/supplement-advisor-server/internal/logging"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger, logCloser, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(ctx, cfg, app.Dependencies{}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to assemble advisor")
	}
	defer stack.Close()

	server := api.NewServer(cfg.Server, stack.Service, stack.Service, logger)
	server.SetHealthReporter(stack.Health)

	logger.WithField("port", cfg.Server.Port).Info("Starting supplement advisor HTTP server")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}
	logger.Info("Server stopped")
}
