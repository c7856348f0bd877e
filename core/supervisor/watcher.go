package supervisor

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes source paths and fires a callback after changes settle.
// Bursts of writes (editors, checkouts) collapse into one trigger per
// debounce window.
type Watcher struct {
	paths    []string
	debounce time.Duration
	onChange func()
	log      *slog.Logger

	fs *fsnotify.Watcher
}

// NewWatcher creates a watcher over paths. onChange runs on the watcher
// goroutine after each settled burst of events.
func NewWatcher(paths []string, debounce time.Duration, onChange func(), log *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := fs.Add(p); err != nil {
			fs.Close()
			return nil, err
		}
	}

	return &Watcher{
		paths:    paths,
		debounce: debounce,
		onChange: onChange,
		log:      log,
		fs:       fs,
	}, nil
}

// relevant filters out noise: chmod-only events and editor swap files.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	switch ext := filepath.Ext(ev.Name); ext {
	case ".swp", ".swx", ".tmp":
		return false
	}
	return true
}

// Run watches until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			w.log.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			w.onChange()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}
