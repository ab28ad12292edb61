package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/supplement-advisor-server/internal/app"
	"github.com/supplement-advisor-server/internal/config"
	"github.com/supplement-advisor-server/internal/logging"
	"github.com/supplement-advisor-server/internal/mcp"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	// stdout belongs to the MCP transport
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
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

	server, err := mcp.NewServer(mcp.Config{}, stack.Service, stack.Service, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("MCP server stopped with error")
		return
	}
	logger.Info("MCP server stopped")
}
