package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoredPrefixMatch(t *testing.T) {
	ignores := []string{"/srv/app/node_modules", "/srv/app/.git"}

	assert.True(t, Ignored("/srv/app/node_modules", ignores))
	assert.True(t, Ignored("/srv/app/node_modules/pkg/index.js", ignores))
	assert.True(t, Ignored("/srv/app/.git/HEAD", ignores))
	assert.False(t, Ignored("/srv/app/src/main.js", ignores))
	// Prefix match is on path components, not raw strings.
	assert.False(t, Ignored("/srv/app/node_modules_backup/x", ignores))
}

func TestIgnoredOrderIndependent(t *testing.T) {
	a := []string{"/a/b", "/a/c"}
	b := []string{"/a/c", "/a/b"}
	for _, p := range []string{"/a/b/x", "/a/c/y", "/a/d/z"} {
		assert.Equal(t, Ignored(p, a), Ignored(p, b))
	}
}

func TestResolveIgnores(t *testing.T) {
	got := ResolveIgnores("/srv/app", []string{"node_modules", "/var/tmp", ""})
	assert.Equal(t, []string{"/srv/app/node_modules", "/var/tmp"}, got)
}

func TestWatchFailsOnMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NotPanics(t, func() { _ = w.Close() })
}

func TestForwardsChanges(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o600))

	select {
	case ev := <-w.Events():
		require.NotEmpty(t, ev.Paths)
		assert.True(t, strings.HasSuffix(ev.Paths[0], "a.txt"))
	case <-time.After(3 * time.Second):
		t.Fatal("no change event forwarded")
	}
}

func TestDropsIgnoredSubtree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "skip"), 0o750))

	w, err := New(root, []string{"skip"})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, os.WriteFile(filepath.Join(root, "skip", "b.txt"), []byte("x"), 0o600))
	// A change in the ignored subtree must never surface.
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for ignored path: %v", ev.Paths)
	case <-time.After(300 * time.Millisecond):
	}

	// The watch itself is still live.
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("x"), 0o600))
	select {
	case ev := <-w.Events():
		assert.True(t, strings.HasSuffix(ev.Paths[0], "c.txt"))
	case <-time.After(3 * time.Second):
		t.Fatal("watch stopped forwarding after ignored event")
	}
}

func TestBuffersBurstWithoutLoss(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Write a burst while nobody consumes; the bridge must hold every event.
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "f"+string(rune('a'+i%26))+".txt"), []byte{byte(i)}, 0o600))
	}

	got := 0
	deadline := time.After(5 * time.Second)
	for got < n {
		select {
		case <-w.Events():
			got++
		case <-deadline:
			// fsnotify may coalesce create+write pairs; require a healthy
			// majority rather than an exact count.
			require.GreaterOrEqual(t, got, n/2)
			return
		}
	}
}

func TestWatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	sub := filepath.Join(root, "newdir")
	require.NoError(t, os.Mkdir(sub, 0o750))
	// Drain the mkdir event(s).
	drainFor(w, 300*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.txt"), []byte("x"), 0o600))
	require.Eventually(t, func() bool {
		select {
		case ev := <-w.Events():
			return strings.HasSuffix(ev.Paths[0], "inner.txt")
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
}

func drainFor(w *Watcher, d time.Duration) {
	deadline := time.After(d)
	for {
		select {
		case <-w.Events():
		case <-deadline:
			return
		}
	}
}
