package auth

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const saWatchDebounce = 100 * time.Millisecond

// saWatcher invalidates cached vertex credentials when the service
// account file changes on disk. The parent directory is watched as well
// because editors and secret managers replace the file by rename, which
// drops the inode-level watch.
type saWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	onSwap  func()

	mu       sync.Mutex
	debounce *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newSAWatcher(path string, onSwap func()) (*saWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}
	// Watching the file itself is best-effort; the directory watch
	// covers renames.
	if err := watcher.Add(abs); err != nil {
		log.WithError(err).WithField("path", abs).Debug("service account file not directly watchable")
	}

	w := &saWatcher{
		watcher: watcher,
		path:    abs,
		onSwap:  onSwap,
		stopCh:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *saWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("service account watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *saWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

// schedule coalesces the burst of events a single file replacement
// produces into one invalidation.
func (w *saWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(saWatchDebounce, w.onSwap)
}

func (w *saWatcher) close() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.mu.Unlock()
		if err := w.watcher.Close(); err != nil {
			log.WithError(err).Debug("service account watcher close")
		}
	})
}
