package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadFunc receives a reloaded config and the changes from the previous
// one. err is set when the new contents failed to load; lc is then the last
// good config.
type ReloadFunc func(lc *LoadedConfig, changes []Change, err error)

// Watcher reloads a settings file whenever it changes on disk.
type Watcher struct {
	loader *Loader
	path   string
	logger zerolog.Logger
	delay  time.Duration

	// reloadMu serializes reloads whose debounce timers overlap.
	reloadMu sync.Mutex

	mu      sync.RWMutex
	current *LoadedConfig
}

// NewWatcher loads path once and returns a watcher for it.
func NewWatcher(ctx context.Context, loader *Loader, path string, logger zerolog.Logger) (*Watcher, error) {
	lc, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		loader:  loader,
		path:    path,
		logger:  logger.With().Str("component", "config-watcher").Str("path", path).Logger(),
		delay:   500 * time.Millisecond,
		current: lc,
	}, nil
}

// SetDebounce changes how long the watcher waits for writes to settle.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.delay = d
}

// Current returns the last config that loaded without errors.
func (w *Watcher) Current() *LoadedConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches the settings file until ctx is cancelled. The parent
// directory is watched so that editors which replace the file on save are
// seen too.
func (w *Watcher) Run(ctx context.Context, onReload ReloadFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	w.logger.Info().Msg("Watching settings file")

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
		// wait for a reload already in progress
		w.reloadMu.Lock()
		w.reloadMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("op", event.Op.String()).
				Msg("Settings file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() {
				w.reload(ctx, onReload)
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context, onReload ReloadFunc) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	lc, err := w.loader.Load(ctx, w.path)

	w.mu.Lock()
	previous := w.current
	if err == nil {
		w.current = lc
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn().Err(err).Msg("Reload failed, keeping previous settings")
		if onReload != nil {
			onReload(previous, nil, err)
		}
		return
	}

	changes := Diff(previous.Project, lc.Project)
	w.logger.Info().
		Int("changes", len(changes)).
		Str("digest", lc.Digest).
		Msg("Settings reloaded")

	if onReload != nil {
		onReload(lc, changes, nil)
	}
}
