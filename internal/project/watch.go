package project

import (
	"strings"

	"github.com/fsnotify/fsnotify"

	"cjls/internal/logging"
)

// FileChange is one normalized filesystem event.
type FileChange struct {
	Path string
	Op   FileOp
}

// FileOp classifies watcher events.
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

// Watcher streams source-file changes for clients that do not send
// workspace/didChangeWatchedFiles. Events funnel into the same handling path.
type Watcher struct {
	fs     *fsnotify.Watcher
	events chan FileChange
	done   chan struct{}
}

// NewWatcher watches every module source root of the project.
func NewWatcher(p *Project) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:     fs,
		events: make(chan FileChange, 64),
		done:   make(chan struct{}),
	}

	roots := map[string]bool{p.RootPath: true}
	for _, m := range p.Modules {
		if m.SourceRoot != "" {
			roots[m.SourceRoot] = true
		}
	}
	for root := range roots {
		if root == "" {
			continue
		}
		if err := fs.Add(root); err != nil {
			logging.Get(logging.CategoryWatch).Warn("watch %s: %v", root, err)
		}
	}

	go w.loop()
	return w, nil
}

// Events returns the change stream.
func (w *Watcher) Events() <-chan FileChange { return w.events }

func (w *Watcher) loop() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".cj") {
				continue
			}
			var op FileOp
			switch {
			case ev.Op.Has(fsnotify.Create):
				op = FileOpCreate
			case ev.Op.Has(fsnotify.Write):
				op = FileOpWrite
			case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
				op = FileOpRemove
			default:
				continue
			}
			logging.WatchDebug("fs event %v on %s", ev.Op, ev.Name)
			select {
			case w.events <- FileChange{Path: ev.Name, Op: op}:
			case <-w.done:
				return
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Warn("watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}
