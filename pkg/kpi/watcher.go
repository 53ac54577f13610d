package kpi

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/pulse/pkg/observability"
)

// Watcher reloads the KPI config file into a Holder when it changes. A file
// that fails to load leaves the previous registry active.
type Watcher struct {
	path     string
	holder   *Holder
	logger   *observability.Logger
	debounce time.Duration
	onReload func(*Registry)
}

// NewWatcher creates a watcher for path. onReload, if set, runs after every
// successful reload.
func NewWatcher(path string, holder *Holder, logger *observability.Logger, onReload func(*Registry)) *Watcher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		holder:   holder,
		logger:   logger.WithField("kpi_config", path),
		debounce: 200 * time.Millisecond,
		onReload: onReload,
	}
}

// Reload loads the file now and installs it if valid.
func (w *Watcher) Reload() error {
	r, err := LoadFile(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("KPI config reload failed, keeping previous config")
		return err
	}
	w.holder.Swap(r)
	w.logger.WithField("kpis", len(r.Definitions)).Info("KPI config loaded")
	if w.onReload != nil {
		w.onReload(r)
	}
	return nil
}

// Run watches the file's directory until ctx is done. Watching the
// directory keeps working across editors that replace the file by rename.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			_ = w.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("KPI config watcher error")
		}
	}
}
