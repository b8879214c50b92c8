package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the panel section whenever its cfg file changes.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	current  PanelConfig
	timer    *time.Timer
	onChange  func(prev, next PanelConfig)
	onError   func(error)
	overrides func(*PanelConfig)

	done chan struct{}
	once sync.Once
}

// NewWatcher watches path. The directory is watched rather than the file
// so editors that replace the file on save are still seen.
func NewWatcher(path string, current PanelConfig, onChange func(prev, next PanelConfig)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: failed to watch %s: %w", abs, err)
	}
	return &Watcher{
		path:     abs,
		debounce: 200 * time.Millisecond,
		watcher:  fw,
		current:  current,
		onChange: onChange,
		onError:  func(error) {},
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce sets how long to wait after the last event before reloading.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// OnError sets the callback for parse and watch failures. The previous
// settings stay active after a failed reload.
func (w *Watcher) OnError(fn func(error)) {
	w.mu.Lock()
	w.onError = fn
	w.mu.Unlock()
}

// SetOverrides sets a function applied to every reloaded config before
// it is compared with the current one. The initial config passed to
// NewWatcher must already carry the same overrides.
func (w *Watcher) SetOverrides(fn func(*PanelConfig)) {
	w.mu.Lock()
	w.overrides = fn
	w.mu.Unlock()
}

// Current returns the last successfully loaded settings.
func (w *Watcher) Current() PanelConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start runs the event loop in a goroutine.
func (w *Watcher) Start() {
	go func() {
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.schedule()
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.reportError(err)
			}
		}
	}()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	next, err := LoadPanelConfig(w.path)
	if err != nil {
		w.reportError(err)
		return
	}

	w.mu.Lock()
	if w.overrides != nil {
		w.overrides(&next)
	}
	prev := w.current
	w.current = next
	cb := w.onChange
	w.mu.Unlock()

	reloadable, restart := prev.Diff(next)
	if len(reloadable) == 0 && len(restart) == 0 {
		return
	}
	if cb != nil {
		cb(prev, next)
	}
}

func (w *Watcher) reportError(err error) {
	w.mu.Lock()
	fn := w.onError
	w.mu.Unlock()
	fn(err)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}
