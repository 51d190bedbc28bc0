package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sentryd/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentryd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFull(t *testing.T) {
	watch := t.TempDir()
	path := writeConfig(t, `
[app]
name = "web"
pid_file = "/tmp/.web.pid"

[watch]
path = "`+watch+`"
ignore = ["node_modules", ".git"]
changes_needed = 5

[commands]
install = "npm install"
build = "npm run build"
run = "npm run start"
env = ["NODE_ENV=production"]

[health]
interval = "2s"
stop_timeout = "10s"
max_ram_mb = 512.0
error_log_cap = 16

[store]
type = "sqlite"
path = "/var/lib/sentryd/state.db"

[server]
enabled = true
listen = "0.0.0.0:9000"
base_path = "/sentryd"
`)

	fc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "web", fc.App.Name)
	assert.Equal(t, 5, fc.Watch.ChangesNeeded)
	assert.Equal(t, []string{"node_modules", ".git"}, fc.Watch.Ignore)
	assert.Equal(t, "npm install", fc.Commands.Install)
	assert.Equal(t, 2*time.Second, fc.Health.Interval)
	assert.Equal(t, 10*time.Second, fc.Health.StopTimeout)
	assert.Equal(t, 512.0, fc.Health.MaxRAMMB)
	assert.Equal(t, "sqlite", fc.Store.Type)
	assert.True(t, fc.Server.Enabled)
	assert.Equal(t, "0.0.0.0:9000", fc.Server.Listen)
}

func TestLoadAppliesDefaults(t *testing.T) {
	watch := t.TempDir()
	path := writeConfig(t, `
[watch]
path = "`+watch+`"

[commands]
run = "sleep 60"
`)

	fc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sentryd", fc.App.Name)
	assert.NotEmpty(t, fc.App.PIDFile)
	assert.Equal(t, engine.DefaultChangesNeeded, fc.Watch.ChangesNeeded)
	assert.Equal(t, engine.DefaultInterval, fc.Health.Interval)
	assert.Equal(t, engine.DefaultStopTimeout, fc.Health.StopTimeout)
	// The workload runs out of the watched tree unless told otherwise.
	assert.Equal(t, watch, fc.Commands.WorkDir)
	assert.Equal(t, "127.0.0.1:8643", fc.Server.Listen)
}

func TestLoadRequiresRunCommand(t *testing.T) {
	path := writeConfig(t, `
[watch]
path = "`+t.TempDir()+`"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commands.run")
}

func TestLoadRequiresWatchDir(t *testing.T) {
	path := writeConfig(t, `
[watch]
path = "/definitely/not/here"

[commands]
run = "sleep 60"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch.path")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestEngineResolvesIgnores(t *testing.T) {
	watch := t.TempDir()
	path := writeConfig(t, `
[watch]
path = "`+watch+`"
ignore = ["node_modules", "/var/cache"]

[commands]
run = "sleep 60"
`)

	fc, err := Load(path)
	require.NoError(t, err)
	ecfg, err := fc.Engine()
	require.NoError(t, err)

	root, err := fc.WatchRoot()
	require.NoError(t, err)
	assert.Equal(t, root, ecfg.WatchPath)
	// Relative ignores anchor under the watch root; absolute ones pass through.
	assert.Contains(t, ecfg.IgnorePaths, filepath.Join(root, "node_modules"))
	assert.Contains(t, ecfg.IgnorePaths, "/var/cache")
	assert.Equal(t, "sleep 60", ecfg.Child.Command)
	assert.Equal(t, fc.App.PIDFile, ecfg.Child.PIDFile)
}
