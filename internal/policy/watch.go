package policy

import (
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// CachingLoader wraps a Loader with an fsnotify-invalidated cache of the
// last Snapshot. Load returns the cached Snapshot until a Watch event
// invalidates it, so without Watch running it keeps returning the first
// Snapshot it resolved; only the wrapped Loader's own Load re-reads disk.
type CachingLoader struct {
	*Loader

	mu       sync.RWMutex
	cached   *Snapshot
	watcher  *fsnotify.Watcher
	closed   atomic.Bool
}

// NewCaching wraps l with snapshot caching invalidated by fsnotify events
// on the policy source files/directories.
func NewCaching(l *Loader) *CachingLoader {
	return &CachingLoader{Loader: l}
}

// Load returns the cached snapshot if present, otherwise loads fresh and
// caches the result.
func (c *CachingLoader) Load() (*Snapshot, error) {
	c.mu.RLock()
	if c.cached != nil {
		snap := c.cached
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	snap, err := c.Loader.Load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = snap
	c.mu.Unlock()
	return snap, nil
}

// Watch starts an fsnotify watch on RULES.md, CODIAL.md, AGENTS.md and the
// skills/subagent directories, invalidating the cache on any write. Safe
// to call once; a second call is a no-op. Watch failures are logged and
// non-fatal — the loader still works, just without the cache benefit.
func (c *CachingLoader) Watch() {
	if c.watcher != nil {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("policy.watch.unavailable", "error", err)
		return
	}
	c.watcher = w

	paths := []string{
		filepath.Join(c.workspaceRoot, "RULES.md"),
		filepath.Join(c.workspaceRoot, "CODIAL.md"),
		filepath.Join(c.workspaceRoot, "AGENTS.md"),
		filepath.Join(c.workspaceRoot, ".claude", "skills"),
		filepath.Join(c.workspaceRoot, "skills"),
		filepath.Join(c.workspaceRoot, ".claude", "agents"),
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			slog.Debug("policy.watch.add_failed", "path", p, "error", err)
		}
	}

	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				c.invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("policy.watch.error", "error", err)
			}
		}
	}()
}

func (c *CachingLoader) invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// Close stops the watch goroutine, if running.
func (c *CachingLoader) Close() error {
	if c.closed.CompareAndSwap(false, true) && c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
