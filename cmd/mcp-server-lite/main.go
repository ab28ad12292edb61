// Package main is the standalone advisor: SQLite for sessions and patterns, a
// persistent chromem evidence store, configured from the environment only.
//
// "mcp-server-lite setup ..." registers the binary with a desktop MCP client.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/api"
	"github.com/supplement-advisor-server/internal/app"
	"github.com/supplement-advisor-server/internal/config"
	"github.com/supplement-advisor-server/internal/logging"
	"github.com/supplement-advisor-server/internal/mcp"
	"github.com/supplement-advisor-server/internal/setup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cmd := setup.NewCommand()
		cmd.SetArgs(os.Args[2:])
		if err := cmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	lite := config.LoadLiteConfig()
	if err := lite.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	cfg := lite.ToConfig()

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

	if lite.SeedFile != "" {
		if _, err := app.Seed(ctx, stack.Service.Evidence(), lite.SeedFile, logger); err != nil {
			logger.WithError(err).Fatal("Failed to seed evidence store")
		}
	}

	logger.WithFields(logrus.Fields{
		"transport": lite.Transport,
		"data_dir":  lite.DataDir,
	}).Info("Starting supplement advisor (lite)")

	switch lite.Transport {
	case "http":
		server := api.NewServer(cfg.Server, stack.Service, stack.Service, logger)
		server.SetHealthReporter(stack.Health)
		err = server.Start(ctx)
	default:
		var server *mcp.Server
		server, err = mcp.NewServer(mcp.Config{Name: "supplement-advisor-lite"}, stack.Service, stack.Service, logger)
		if err == nil {
			err = server.Run(ctx)
		}
	}
	if err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}
	logger.Info("Server stopped")
}
