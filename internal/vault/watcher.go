package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher translates file-system notifications under the workspace root
// into vault events on the bus. Renames arrive from fsnotify as a
// rename+create pair; the watcher reports them as delete+change and leaves
// tab path reconciliation to the workspace layer.
type Watcher struct {
	fs   *fsnotify.Watcher
	bus  *Bus
	root string
	log  zerolog.Logger
}

// NewWatcher creates a recursive watcher over root.
func NewWatcher(root string, bus *Bus, log zerolog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	w := &Watcher{fs: fs, bus: bus, root: root, log: log}
	if err := w.addRecursive(root); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// Run pumps fsnotify events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		if err := w.fs.Close(); err != nil {
			w.log.Warn().Err(err).Msg("failed to close fs watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("fs watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", ev.Name).Msg("failed to watch new directory")
			}
			return
		}
		w.bus.Emit(Event{Type: EventFileChange, Path: ev.Name})
	case ev.Op.Has(fsnotify.Write):
		w.bus.Emit(Event{Type: EventFileChange, Path: ev.Name})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.bus.Emit(Event{Type: EventFileDelete, Path: ev.Name})
	}
}
