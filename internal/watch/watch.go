// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package watch implements the config file watcher, feeding ConfigModified
// events to the reconciliation daemon on reload.
package watch

import (
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Teascade/pipeswitch/internal/config"
)

// debounce coalesces rapid successive writes from the same editor save.
const debounce = 100 * time.Millisecond

// Watcher watches the directory containing a config file (editors commonly
// replace-via-rename, which a watch on the file itself would miss) and
// reloads on Write/Create/Rename events targeting that path.
type Watcher struct {
	path     string
	log      *slog.Logger
	fsw      *fsnotify.Watcher
	running  atomic.Bool
	modified chan *config.Config
}

// New starts watching the directory containing path. The caller must call
// Run on its own goroutine and Close to stop it.
func New(path string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		log:      log,
		fsw:      fsw,
		modified: make(chan *config.Config, 1),
	}
	w.running.Store(true)
	return w, nil
}

// Modified returns the channel of successfully reloaded configs. Reload
// failures are logged and do not appear here: a bad edit keeps the current
// rules live rather than tearing anything down.
func (w *Watcher) Modified() <-chan *config.Config {
	return w.modified
}

// Run drives the watch loop. It exits when Close clears the running flag
// and the next fsnotify wakeup observes it.
func (w *Watcher) Run() {
	defer close(w.modified)

	var timer *time.Timer
	var pending bool
	fire := make(chan struct{}, 1)

	for {
		if !w.running.Load() {
			return
		}
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			pending = true
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if !pending {
				continue
			}
			pending = false
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watch: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cf, err := config.LoadConfigFile(w.path)
	if err != nil {
		w.log.Error("watch: reload failed, keeping current rules", "error", err)
		return
	}
	select {
	case w.modified <- cf.Config:
	default:
		// Drop an unread prior reload in favor of the freshest one. The
		// daemon may drain the stale entry first, so the discard itself
		// must not block either.
		select {
		case <-w.modified:
		default:
		}
		w.modified <- cf.Config
	}
}

// Close stops the watcher: clears the running flag so the next fsnotify
// wakeup exits the loop.
func (w *Watcher) Close() error {
	w.running.Store(false)
	return w.fsw.Close()
}
