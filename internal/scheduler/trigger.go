package scheduler

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// TriggerWatcher lets an operator request an out-of-band dump by creating
// or writing a control file in a watched directory, without restarting the
// host process. This is grounded directly on Orizon's own top-level use of
// fsnotify for watching source/config files, repurposed here to watch a
// dump-trigger directory instead.
type TriggerWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	events  chan struct{}
	errs    chan error
}

// WatchFile watches path's parent directory and fires on Events whenever
// path itself is created or written (fsnotify watches directories more
// reliably than individual files across editors/tools that write via
// rename-into-place).
func WatchFile(path string) (*TriggerWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create trigger watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()

		return nil, fmt.Errorf("watch %q: %w", dir, err)
	}

	tw := &TriggerWatcher{
		watcher: w,
		path:    filepath.Clean(path),
		events:  make(chan struct{}, 1),
		errs:    make(chan error, 1),
	}

	go tw.run()

	return tw, nil
}

func (tw *TriggerWatcher) run() {
	for {
		select {
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != tw.path {
				continue
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			select {
			case tw.events <- struct{}{}:
			default:
			}
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case tw.errs <- err:
			default:
			}
		}
	}
}

// Events fires on a detected trigger-file create/write. It buffers one
// event; detections that arrive while one is still pending are dropped.
func (tw *TriggerWatcher) Events() <-chan struct{} { return tw.events }

// Errors surfaces watcher-internal errors.
func (tw *TriggerWatcher) Errors() <-chan error { return tw.errs }

// Close stops watching.
func (tw *TriggerWatcher) Close() error {
	return tw.watcher.Close()
}
