package setup

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewCommand returns the "setup" command tree.
func NewCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "setup",
		Short: "Register the advisor with a desktop MCP client",
		Long: `Register the supplement advisor with a desktop MCP client so the client
launches it over stdio.

Examples:
  # Register the running binary
  mcp-server-lite setup register --yes

  # Register with a seed file and a custom data directory
  mcp-server-lite setup register --data-dir ~/advisor --seed-file ~/advisor/seed.json

  # Show the registration
  mcp-server-lite setup status`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "client config file (defaults to the platform location)")

	resolve := func() (string, error) {
		if configPath != "" {
			return configPath, nil
		}
		return DefaultClientConfigPath()
	}

	root.AddCommand(newRegisterCommand(resolve), newStatusCommand(resolve), newRemoveCommand(resolve))
	return root
}

func newRegisterCommand(resolve func() (string, error)) *cobra.Command {
	var (
		opts       Options
		autoYes    bool
		includeKey bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Add or update the advisor entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			if opts.BinaryPath == "" {
				if opts.BinaryPath, err = os.Executable(); err != nil {
					return fmt.Errorf("locating current binary: %w", err)
				}
			}
			if includeKey {
				opts.APIKey = os.Getenv(EnvAPIKey)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client config: %s\n", path)
			fmt.Fprintf(out, "Server binary: %s\n", opts.BinaryPath)
			if opts.DataDir != "" {
				fmt.Fprintf(out, "Data directory: %s\n", opts.DataDir)
			}
			if opts.SeedFile != "" {
				fmt.Fprintf(out, "Seed file: %s\n", opts.SeedFile)
			}

			if !autoYes && !confirm(cmd, "Proceed? [Y/n]: ", true) {
				fmt.Fprintln(out, "Registration cancelled.")
				return nil
			}

			if _, err := Register(path, opts); err != nil {
				return err
			}
			fmt.Fprintf(out, "Registered %s. Restart the client to load it.\n", ServerName)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.BinaryPath, "binary", "b", "", "server binary (defaults to this executable)")
	cmd.Flags().StringVarP(&opts.DataDir, "data-dir", "d", "", "data directory passed as "+EnvDataDir)
	cmd.Flags().StringVar(&opts.SeedFile, "seed-file", "", "evidence seed file passed as "+EnvSeedFile)
	cmd.Flags().BoolVar(&includeKey, "with-api-key", false, "copy "+EnvAPIKey+" from the environment into the entry")
	cmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newStatusCommand(resolve func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the advisor registration and any problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			status, err := Inspect(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client config: %s\n", status.ConfigPath)
			if status.Registered {
				fmt.Fprintf(out, "Registered: yes (%s)\n", status.Entry.Command)
			} else {
				fmt.Fprintln(out, "Registered: no")
			}
			if status.DataDirFound {
				fmt.Fprintf(out, "Data directory: %s\n", status.DataDir)
			} else {
				fmt.Fprintf(out, "Data directory: %s (created on first run)\n", status.DataDir)
			}
			for _, p := range status.Problems {
				fmt.Fprintf(out, "Problem: %s\n", p)
			}
			if !status.Healthy() {
				return fmt.Errorf("registration has %d problem(s)", len(status.Problems))
			}
			return nil
		},
	}
}

func newRemoveCommand(resolve func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Remove the advisor entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			removed, err := Unregister(path)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", ServerName, path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not registered in %s\n", ServerName, path)
			}
			return nil
		},
	}
}

func confirm(cmd *cobra.Command, prompt string, def bool) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}
