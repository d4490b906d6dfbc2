// Package notify provides filesystem-driven reload notifications.
package notify

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches a single configuration file and dispatches a callback
// when it is rewritten. Focal uses it to hot-reload the device TTL table
// without restarting the engine.
type FileWatcher struct {
	path     string
	callback func(path string)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewFileWatcher creates a watcher for the given file path.
func NewFileWatcher(path string, callback func(path string)) *FileWatcher {
	return &FileWatcher{
		path:     path,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. The parent directory is watched rather than the file
// itself so atomic rename-into-place updates are seen. Call Stop to clean up.
func (fw *FileWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(fw.path)); err != nil {
		_ = w.Close()
		return err
	}
	fw.watcher = w

	go fw.loop()
	log.Printf("notify: watching %s for changes", fw.path)
	return nil
}

// Stop shuts down the watcher.
func (fw *FileWatcher) Stop() {
	if fw.watcher != nil {
		_ = fw.watcher.Close()
	}
	<-fw.done
}

func (fw *FileWatcher) loop() {
	defer close(fw.done)
	for {
		select {
		case evt, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(evt.Name) != filepath.Clean(fw.path) {
				continue
			}
			if fw.callback != nil {
				fw.callback(fw.path)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}
