package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vk/stagegrid/internal/ctxlog"
)

// DefaultDebounce is how long Watch waits for more file events before
// reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the catalog whenever an .hcl file under the configured paths
// changes. Events are debounced so an editor save triggers one reload. A
// reload that fails is logged and the previous definitions stay active.
//
// Watch blocks until ctx is cancelled. onReload, when non-nil, is called
// after every reload attempt with its result.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration, onReload func(error)) error {
	logger := ctxlog.FromContext(ctx)
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range c.paths {
		if err := addRecursive(watcher, p); err != nil {
			return err
		}
	}
	logger.Debug("Watching definitions.", "paths", c.paths)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addRecursive(watcher, ev.Name)
				}
			}
			if filepath.Ext(ev.Name) != ".hcl" {
				continue
			}
			logger.Debug("Definition file changed.", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Definition watcher error.", "error", err)

		case <-fire:
			fire = nil
			err := c.Load(ctx)
			if err != nil {
				logger.Error("❌ Reloading definitions failed, keeping previous set.", "error", err)
			}
			if onReload != nil {
				onReload(err)
			}
		}
	}
}

// addRecursive watches dir and all of its subdirectories. A file path
// watches its parent directory. Missing paths are ignored.
func addRecursive(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error accessing path %s: %w", path, err)
	}
	if !info.IsDir() {
		return w.Add(filepath.Dir(path))
	}
	return filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if err := w.Add(p); err != nil {
				return fmt.Errorf("watching %s: %w", p, err)
			}
		}
		return nil
	})
}
