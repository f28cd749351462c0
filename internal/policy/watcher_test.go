package policy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// reloads collects reload outcomes of watcher
func reloads(watcher *FileWatcher) <-chan ReloadEvent {
	ch := make(chan ReloadEvent, 32)
	watcher.OnReload(func(ev ReloadEvent) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

// waitForReload returns the first reload event accepted by match. A single
// file write can produce several fsnotify events and so several reloads.
func waitForReload(t *testing.T, events <-chan ReloadEvent, match func(ReloadEvent) bool) ReloadEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload event")
			return ReloadEvent{}
		}
	}
}

func TestFileWatcher_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tenant.yaml"), tenantPolicyYAML)

	store := newTestStore(t)
	loader := newTestLoader(t)
	initial, err := loader.LoadFromDirectory(dir)
	require.NoError(t, err)
	_, err = store.Replace(initial, "initial")
	require.NoError(t, err)

	watcher, err := NewFileWatcher(dir, store, loader, zap.NewNop())
	require.NoError(t, err)
	watcher.SetDebounceTimeout(20 * time.Millisecond)
	events := reloads(watcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Watch(ctx))
	assert.True(t, watcher.IsWatching())
	assert.Error(t, watcher.Watch(ctx), "second Watch must fail")

	writeFile(t, filepath.Join(dir, "limits.yaml"), limitPolicyYAML)

	ev := waitForReload(t, events, func(ev ReloadEvent) bool { return ev.Error == nil && len(ev.PolicyIDs) == 4 })
	assert.GreaterOrEqual(t, ev.Version, int64(2))
	assert.Equal(t, store.Snapshot().Checksum(), ev.Checksum)
	assert.Len(t, store.List(), 4)

	// rewriting identical content publishes nothing new
	version := store.Version()
	writeFile(t, filepath.Join(dir, "limits.yaml"), limitPolicyYAML)
	ev = waitForReload(t, events, func(ev ReloadEvent) bool { return ev.Unchanged })
	assert.Equal(t, version, ev.Version)
	assert.Equal(t, version, store.Version())

	require.NoError(t, watcher.Stop())
	assert.False(t, watcher.IsWatching())
}

func TestFileWatcher_InvalidChangeKeepsSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tenant.yaml"), tenantPolicyYAML)

	store := newTestStore(t)
	loader := newTestLoader(t)
	initial, err := loader.LoadFromDirectory(dir)
	require.NoError(t, err)
	_, err = store.Replace(initial, "initial")
	require.NoError(t, err)

	watcher, err := NewFileWatcher(dir, store, loader, zap.NewNop())
	require.NoError(t, err)
	watcher.SetDebounceTimeout(20 * time.Millisecond)
	events := reloads(watcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Watch(ctx))

	writeFile(t, filepath.Join(dir, "broken.yaml"), "id: broken\nname: Broken\neffect: NOPE\n")

	ev := waitForReload(t, events, func(ev ReloadEvent) bool { return ev.Error != nil })
	assert.Equal(t, int64(1), ev.Version)
	assert.Equal(t, int64(1), store.Version())

	require.NoError(t, watcher.Stop())
}

func TestFileWatcher_StopWithoutWatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	watcher, err := NewFileWatcher(t.TempDir(), newTestStore(t), newTestLoader(t), nil)
	require.NoError(t, err)
	assert.NoError(t, watcher.Stop())
}

func TestFileWatcher_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	watcher, err := NewFileWatcher(t.TempDir(), newTestStore(t), newTestLoader(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, watcher.Watch(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !watcher.IsWatching() }, time.Second, 5*time.Millisecond)
	require.NoError(t, watcher.Stop())
}
