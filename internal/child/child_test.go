//go:build !windows

package child

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnAndStop(t *testing.T) {
	c, err := Spawn(Spec{Name: "sleeper", Command: "sleep 30"})
	require.NoError(t, err)
	require.NotZero(t, c.PID())
	assert.True(t, c.Running())

	require.NoError(t, c.Stop(2*time.Second))
	assert.Eventually(t, func() bool { return !c.Running() }, 2*time.Second, 20*time.Millisecond)
}

func TestCapturesStdout(t *testing.T) {
	c, err := Spawn(Spec{Name: "echoer", Command: "sh -c 'echo hello; sleep 30'"})
	require.NoError(t, err)
	defer func() { _ = c.Kill() }()

	require.Eventually(t, func() bool {
		for _, ln := range c.DrainStdout() {
			if ln.Line == "hello" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	// No new output: a second drain comes back empty.
	assert.Empty(t, c.DrainStdout())
}

func TestCapturesStderr(t *testing.T) {
	c, err := Spawn(Spec{Name: "errer", Command: "sh -c 'echo oops 1>&2; sleep 30'"})
	require.NoError(t, err)
	defer func() { _ = c.Kill() }()

	require.Eventually(t, func() bool {
		for _, ln := range c.DrainStderr() {
			if ln.Line == "oops" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestExitObservedAsNotRunning(t *testing.T) {
	c, err := Spawn(Spec{Name: "quick", Command: "sh -c 'exit 0'"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !c.Running() }, 2*time.Second, 20*time.Millisecond)
	select {
	case <-c.WaitDone():
	case <-time.After(2 * time.Second):
		t.Fatal("workload was never reaped")
	}
}

func TestWritesPIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "w.pid")
	c, err := Spawn(Spec{Name: "pidful", Command: "sleep 30", PIDFile: pidFile})
	require.NoError(t, err)
	defer func() { _ = c.Kill() }()

	b, err := readFileEventually(t, pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(b))
	require.NoError(t, err)
	assert.Equal(t, c.PID(), pid)
}

func TestSpawnFailure(t *testing.T) {
	_, err := Spawn(Spec{Name: "missing", Command: "/definitely/not/a/command"})
	require.Error(t, err)
}

func TestRunStep(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, RunStep(ctx, "true", "", nil))

	err := RunStep(ctx, "sh -c 'echo broken 1>&2; exit 3'", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func readFileEventually(t *testing.T, path string) ([]byte, error) {
	t.Helper()
	var b []byte
	var err error
	require.Eventually(t, func() bool {
		b, err = os.ReadFile(path)
		return err == nil && len(b) > 0
	}, 2*time.Second, 20*time.Millisecond)
	return b, err
}
