package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/sessiond/sessiond/internal/logging"
)

// Watcher holds the most recently resolved Config and swaps it
// atomically when the backing file changes, so concurrent readers never
// observe a partially-applied reload. Only callers of Current see a
// reloaded Config; the serve command does not create a Watcher, so its
// providers and sandbox keep the configuration loaded at startup.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once and starts watching it for changes.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cfg := LoadFile(path)
	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	w.current.Store(&cfg)

	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg := LoadFile(w.path)
			w.current.Store(&cfg)
			logging.Info().Str("path", w.path).Msg("config: reloaded")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("config: watch error")
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
