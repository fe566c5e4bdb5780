package loaders

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

// DefaultDebounce groups the burst of events an editor emits for one save
const DefaultDebounce = 50 * time.Millisecond

// Watcher reloads a scene file whenever it changes on disk
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onLoad   func(*LoadResult, error)
	debounce time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// WatchScene calls onLoad with the reloaded scene after every change to
// path. onLoad runs on the watcher goroutine; a failed reload passes the
// error and the caller keeps its previous scene.
func WatchScene(path string, debounce time.Duration, onLoad func(*LoadResult, error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// editors often replace the file, so watch the directory
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		path:     abs,
		watcher:  fw,
		onLoad:   onLoad,
		debounce: debounce,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	log := core.Logger().With("file", w.path)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("file watcher error", "err", err)
		case <-fire:
			fire = nil
			result, err := LoadScene(w.path)
			if err != nil {
				log.Warn("scene reload failed", "err", err)
			} else {
				log.Info("scene reloaded", "objects", result.Scene.Len())
			}
			w.onLoad(result, err)
		}
	}
}

// Path returns the absolute path being watched
func (w *Watcher) Path() string {
	return w.path
}

// Close stops watching and waits for a running onLoad to return
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
