package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType is the kind of change seen under the watched root
type EventType string

const (
	Created  EventType = "created"
	Modified EventType = "modified"
	Removed  EventType = "removed"
	Renamed  EventType = "renamed"
)

// Event is one change under the watched root
type Event struct {
	Path      string
	Type      EventType
	Timestamp time.Time
}

// Watcher reports changes anywhere below a root directory.
// Directories created after Start are watched as they appear.
type Watcher struct {
	root   string
	fsw    *fsnotify.Watcher
	logger *log.Logger
}

// New creates a watcher on root and every directory below it
func New(root string, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{root: root, fsw: fsw, logger: logger}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run forwards events to onEvent until ctx is done or the watcher is closed
func (w *Watcher) Run(ctx context.Context, onEvent func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			typ, ok := classify(ev.Op)
			if !ok {
				continue
			}
			if typ == Created {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Printf("Failed to watch %s: %v", ev.Name, err)
					}
				}
			}
			onEvent(Event{Path: ev.Name, Type: typ, Timestamp: time.Now()})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("Watcher error on %s: %v", w.root, err)
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// removed between event and walk
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func classify(op fsnotify.Op) (EventType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	case op.Has(fsnotify.Remove):
		return Removed, true
	case op.Has(fsnotify.Rename):
		return Renamed, true
	default:
		return "", false
	}
}
