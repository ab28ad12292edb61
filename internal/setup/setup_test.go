package setup

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp-server-lite")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestLoadClientConfig_Missing(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)
}

func TestLoadClientConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadClientConfig(path)
	assert.Error(t, err)
}

func TestRegister_PreservesOtherServersAndKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Claude", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	existing := `{"theme": "dark", "mcpServers": {"files": {"command": "/usr/bin/files"}}}`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o600))

	binary := fakeBinary(t)
	entry, err := Register(path, Options{BinaryPath: binary, DataDir: "/data", SeedFile: "/data/seed.json"})
	require.NoError(t, err)
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, "/data", entry.Env[EnvDataDir])
	assert.NotContains(t, entry.Env, EnvAPIKey)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"files", ServerName}, cfg.ServerNames())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "dark", raw["theme"])
}

func TestRegister_RequiresBinary(t *testing.T) {
	_, err := Register(filepath.Join(t.TempDir(), "config.json"), Options{})
	assert.Error(t, err)
}

func TestUnregister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	removed, err := Unregister(path)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = Register(path, Options{BinaryPath: fakeBinary(t)})
	require.NoError(t, err)

	removed, err = Unregister(path)
	require.NoError(t, err)
	assert.True(t, removed)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	status, err := Inspect(path)
	require.NoError(t, err)
	assert.False(t, status.Registered)
	assert.False(t, status.Healthy())

	_, err = Register(path, Options{BinaryPath: fakeBinary(t), DataDir: dir})
	require.NoError(t, err)
	status, err = Inspect(path)
	require.NoError(t, err)
	assert.True(t, status.Healthy())
	assert.True(t, status.DataDirFound)
	assert.Equal(t, dir, status.DataDir)

	_, err = Register(path, Options{BinaryPath: filepath.Join(dir, "gone"), SeedFile: filepath.Join(dir, "seed.json")})
	require.NoError(t, err)
	status, err = Inspect(path)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Len(t, status.Problems, 2)
}

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommand_RegisterStatusRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	binary := fakeBinary(t)

	out, err := runCommand(t, "", "register", "--config", path, "--binary", binary, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered "+ServerName)

	out, err = runCommand(t, "", "status", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Registered: yes ("+binary+")")

	out, err = runCommand(t, "", "remove", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed "+ServerName)

	_, err = runCommand(t, "", "status", "--config", path)
	assert.Error(t, err)
}

func TestCommand_RegisterDeclined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	out, err := runCommand(t, "n\n", "register", "--config", path, "--binary", fakeBinary(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Registration cancelled.")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCommand_RegisterWithAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "sk-test")
	path := filepath.Join(t.TempDir(), "config.json")

	_, err := runCommand(t, "\n", "register", "--config", path, "--binary", fakeBinary(t), "--with-api-key")
	require.NoError(t, err)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.MCPServers[ServerName].Env[EnvAPIKey])
}
