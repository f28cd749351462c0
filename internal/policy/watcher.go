package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadEvent reports the outcome of one directory reload
type ReloadEvent struct {
	Timestamp time.Time
	Version   int64
	Checksum  string
	PolicyIDs []string
	// Unchanged is set when files changed but the policy set did not, so no
	// new version was published
	Unchanged bool
	Error     error
}

// FileWatcher republishes a policy directory into a store once writes to
// it settle. Reloads run on the watcher goroutine, one at a time.
type FileWatcher struct {
	dir    string
	store  Store
	loader *Loader
	logger *zap.Logger
	fsw    *fsnotify.Watcher

	mu       sync.Mutex
	debounce time.Duration
	hooks    []func(ReloadEvent)
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewFileWatcher creates a watcher for dir
func NewFileWatcher(dir string, store Store, loader *Loader, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		dir:      dir,
		store:    store,
		loader:   loader,
		logger:   logger,
		fsw:      fsw,
		debounce: 500 * time.Millisecond,
	}, nil
}

// SetDebounceTimeout sets how long the directory must be quiet before a
// reload. It applies to the next Watch.
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.debounce = d
}

// OnReload registers fn to receive every reload outcome
func (fw *FileWatcher) OnReload(fn func(ReloadEvent)) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.hooks = append(fw.hooks, fn)
}

// Watch starts watching until ctx is done or Stop is called
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher for %s is already running", fw.dir)
	}
	if err := fw.fsw.Add(fw.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", fw.dir, err)
	}
	fw.running = true
	fw.stop = make(chan struct{})
	fw.done = make(chan struct{})

	fw.logger.Info("Watching policy directory",
		zap.String("dir", fw.dir),
		zap.Duration("debounce", fw.debounce),
	)
	go fw.loop(ctx, fw.debounce, fw.stop, fw.done)
	return nil
}

func (fw *FileWatcher) loop(ctx context.Context, debounce time.Duration, stop, done chan struct{}) {
	defer func() {
		fw.mu.Lock()
		fw.running = false
		fw.mu.Unlock()
		close(done)
		fw.logger.Info("Policy directory watcher stopped", zap.String("dir", fw.dir))
	}()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return

		case ev, ok := <-fw.fsw.Events:
			if !ok {
				return
			}
			if !IsPolicyFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			fw.logger.Debug("Policy file changed",
				zap.String("file", ev.Name),
				zap.String("op", ev.Op.String()),
			)
			timer.Reset(debounce)

		case <-timer.C:
			fw.Reload()

		case err, ok := <-fw.fsw.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Policy watcher error", zap.Error(err))
		}
	}
}

// Reload loads the directory and replaces the store contents. A failed
// load keeps the current snapshot.
func (fw *FileWatcher) Reload() {
	before := fw.store.Version()
	ev := ReloadEvent{Timestamp: time.Now(), Version: before}

	policies, err := fw.loader.LoadFromDirectory(fw.dir)
	if err == nil {
		var snap *Snapshot
		snap, err = fw.store.Replace(policies, "reload from "+fw.dir)
		if err == nil {
			ev.Version = snap.Version()
			ev.Checksum = snap.Checksum()
			ev.Unchanged = snap.Version() == before
			ev.PolicyIDs = make([]string, 0, len(policies))
			for _, p := range policies {
				ev.PolicyIDs = append(ev.PolicyIDs, p.ID)
			}
		}
	}
	ev.Error = err

	switch {
	case err != nil:
		fw.logger.Error("Policy reload failed, keeping current snapshot",
			zap.String("dir", fw.dir),
			zap.Int64("version", before),
			zap.Error(err),
		)
	case ev.Unchanged:
		fw.logger.Debug("Policy files changed without effect", zap.Int64("version", ev.Version))
	default:
		fw.logger.Info("Policies reloaded",
			zap.Int64("version", ev.Version),
			zap.Int("policies", len(ev.PolicyIDs)),
		)
	}

	fw.mu.Lock()
	hooks := append(([]func(ReloadEvent))(nil), fw.hooks...)
	fw.mu.Unlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

// Stop stops watching, waits for the loop to exit and releases the
// fsnotify handle
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	stop, done, running := fw.stop, fw.done, fw.running
	fw.mu.Unlock()

	if running {
		close(stop)
		<-done
	}
	return fw.fsw.Close()
}

// IsWatching reports whether the watch loop is running
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}
