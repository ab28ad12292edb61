// Package setup registers the advisor binary with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// ServerName is the key under which the advisor is registered.
const ServerName = "supplement-advisor"

// Environment variables passed to the registered server.
const (
	EnvDataDir  = "ADVISOR_DATA_DIR"
	EnvSeedFile = "ADVISOR_SEED_FILE"
	EnvAPIKey   = "OPENAI_API_KEY"
)

// ClientConfig is the MCP client configuration file. Unknown top-level keys
// are preserved across a load and save.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`

	extra map[string]json.RawMessage
}

// ServerEntry describes how the client launches one MCP server.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls a registration.
type Options struct {
	BinaryPath string
	DataDir    string
	SeedFile   string
	// APIKey is written into the client config only when set.
	APIKey string
}

// DefaultClientConfigPath returns the platform location of the desktop client
// configuration file.
func DefaultClientConfigPath() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA is not set")
		}
		return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
	default:
		dir := os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolving home directory: %w", err)
			}
			dir = filepath.Join(home, ".config")
		}
		return filepath.Join(dir, "Claude", "claude_desktop_config.json"), nil
	}
}

// DefaultDataDir is where the lite binary keeps its files when unconfigured.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".supplement-advisor")
}

// LoadClientConfig reads path. A missing file yields an empty configuration.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{MCPServers: map[string]ServerEntry{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing client config %s: %w", path, err)
	}
	if servers, ok := raw["mcpServers"]; ok {
		if err := json.Unmarshal(servers, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("parsing mcpServers in %s: %w", path, err)
		}
		if cfg.MCPServers == nil {
			cfg.MCPServers = map[string]ServerEntry{}
		}
		delete(raw, "mcpServers")
	}
	cfg.extra = raw
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *ClientConfig) Save(path string) error {
	out := make(map[string]interface{}, len(c.extra)+1)
	for k, v := range c.extra {
		out[k] = v
	}
	out["mcpServers"] = c.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding client config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating client config directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing client config: %w", err)
	}
	return nil
}

// ServerNames lists the registered servers in name order.
func (c *ClientConfig) ServerNames() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds or replaces the advisor entry in the client config at path.
func Register(path string, opts Options) (ServerEntry, error) {
	if opts.BinaryPath == "" {
		return ServerEntry{}, fmt.Errorf("binary path is required")
	}
	binary, err := filepath.Abs(opts.BinaryPath)
	if err != nil {
		return ServerEntry{}, fmt.Errorf("resolving binary path: %w", err)
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return ServerEntry{}, err
	}

	entry := ServerEntry{Command: binary, Env: map[string]string{}}
	if opts.DataDir != "" {
		entry.Env[EnvDataDir] = opts.DataDir
	}
	if opts.SeedFile != "" {
		entry.Env[EnvSeedFile] = opts.SeedFile
	}
	if opts.APIKey != "" {
		entry.Env[EnvAPIKey] = opts.APIKey
	}
	if len(entry.Env) == 0 {
		entry.Env = nil
	}

	cfg.MCPServers[ServerName] = entry
	if err := cfg.Save(path); err != nil {
		return ServerEntry{}, err
	}
	return entry, nil
}

// Unregister removes the advisor entry. It reports whether an entry existed.
func Unregister(path string) (bool, error) {
	cfg, err := LoadClientConfig(path)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.MCPServers[ServerName]; !ok {
		return false, nil
	}
	delete(cfg.MCPServers, ServerName)
	return true, cfg.Save(path)
}

// Status describes the advisor registration found in a client config.
type Status struct {
	ConfigPath   string
	Registered   bool
	Entry        ServerEntry
	DataDir      string
	DataDirFound bool
	// Problems that would stop the client from launching the server.
	Problems []string
}

// Healthy reports whether the registration can be launched.
func (s *Status) Healthy() bool {
	return s.Registered && len(s.Problems) == 0
}

// Inspect checks the registration in the client config at path.
func Inspect(path string) (*Status, error) {
	cfg, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}

	status := &Status{ConfigPath: path, DataDir: DefaultDataDir()}
	entry, ok := cfg.MCPServers[ServerName]
	if !ok {
		status.Problems = append(status.Problems, fmt.Sprintf("%s is not registered", ServerName))
	} else {
		status.Registered = true
		status.Entry = entry
		if dir := entry.Env[EnvDataDir]; dir != "" {
			status.DataDir = dir
		}

		info, err := os.Stat(entry.Command)
		switch {
		case err != nil:
			status.Problems = append(status.Problems, fmt.Sprintf("server binary not found: %s", entry.Command))
		case info.IsDir():
			status.Problems = append(status.Problems, fmt.Sprintf("server binary is a directory: %s", entry.Command))
		case runtime.GOOS != "windows" && info.Mode()&0o111 == 0:
			status.Problems = append(status.Problems, fmt.Sprintf("server binary is not executable: %s", entry.Command))
		}

		if seed := entry.Env[EnvSeedFile]; seed != "" {
			if _, err := os.Stat(seed); err != nil {
				status.Problems = append(status.Problems, fmt.Sprintf("seed file not found: %s", seed))
			}
		}
	}

	// A missing data directory is created on first run.
	if _, err := os.Stat(status.DataDir); err == nil {
		status.DataDirFound = true
	}
	return status, nil
}
