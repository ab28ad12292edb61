// Command migrate applies or rolls back the PostgreSQL schema.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/supplement-advisor-server/internal/config"
	"github.com/supplement-advisor-server/internal/database"
	"github.com/supplement-advisor-server/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the advisor's PostgreSQL schema",
	Long: `Apply or roll back the advisor's PostgreSQL migrations.

Examples:
  # Apply all pending migrations
  migrate up

  # Use a specific config file
  migrate up --config /etc/advisor/config.yaml

  # Show the current schema version
  migrate version`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")

	rootCmd.AddCommand(
		runnerCommand("up", "Apply all pending migrations", (*database.MigrationRunner).Up),
		runnerCommand("down", "Roll back every migration", (*database.MigrationRunner).Down),
		runnerCommand("reset", "Roll back and reapply every migration", (*database.MigrationRunner).Reset),
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(runner *database.MigrationRunner, _ *logrus.Logger) error {
					version, dirty, err := runner.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
					return nil
				})
			},
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runnerCommand(use, short string, step func(*database.MigrationRunner, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(runner *database.MigrationRunner, logger *logrus.Logger) error {
				if err := step(runner, cmd.Context()); err != nil {
					return fmt.Errorf("migrate %s: %w", use, err)
				}
				logger.WithField("command", use).Info("Migration finished")
				return nil
			})
		},
	}
}

func withRunner(fn func(*database.MigrationRunner, *logrus.Logger) error) error {
	var (
		configManager *config.Manager
		err           error
	)
	if configPath != "" {
		configManager, err = config.NewManagerFromFile(configPath)
	} else {
		configManager, err = config.NewManager()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := configManager.GetConfig()

	logger, logCloser, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logCloser.Close()

	runner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	return fn(runner, logger)
}
