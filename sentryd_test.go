//go:build !windows

package sentryd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, watchDir, dbPath string) string {
	t.Helper()
	cfg := `
[app]
name = "facade-test"

[watch]
path = "` + watchDir + `"

[commands]
run = "sleep 30"

[health]
interval = "100ms"
stop_timeout = "2s"

[store]
path = "` + dbPath + `"
`
	path := filepath.Join(t.TempDir(), "sentryd.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), filepath.Join(t.TempDir(), "s.db"))
	fc, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "facade-test", fc.App.Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestRunSupervisesUntilCancel(t *testing.T) {
	tmp := t.TempDir()
	path := writeTestConfig(t, tmp, filepath.Join(tmp, "state.db"))

	ctx, cancel := context.WithCancel(context.Background())
	codeCh := make(chan int, 1)
	go func() {
		code, err := Run(ctx, path)
		assert.NoError(t, err)
		codeCh <- code
	}()

	// Give the engine time to spawn and settle, then request shutdown.
	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case code := <-codeCh:
		assert.Equal(t, ExitOK, code)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not exit after cancellation")
	}
}
