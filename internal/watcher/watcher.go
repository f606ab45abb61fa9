// Package watcher wraps fsnotify with recursive directory registration and
// path filters.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
)

// WatchedExtensions are the file extensions whose changes trigger a page
// rebuild.
var WatchedExtensions = []string{
	".ts", ".js", ".css", ".scss", ".sass",
	".svg", ".png", ".jpg", ".jpeg", ".gif",
	".html",
}

// FileWatcher delivers one ChangeEvent per relevant filesystem event.
// Events are not debounced: every write reaches the handlers.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	logger    logging.Logger
	filters   []FileFilter
	handlers  []ChangeHandler
	skipDirs  []string
	mutex     sync.RWMutex
	done      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ChangeHandler handles file change events
type ChangeHandler func(event ChangeEvent) error

// NewFileWatcher creates a watcher. Directories whose base name is in
// skipDirs are never registered.
func NewFileWatcher(logger logging.Logger, skipDirs ...string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, uerrors.NewInternalError("creating file watcher", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &FileWatcher{
		watcher:  w,
		logger:   logger.WithComponent("watcher"),
		skipDirs: skipDirs,
		done:     make(chan struct{}),
	}, nil
}

// AddFilter adds a file filter. All filters must accept a path.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath adds a single path to watch
func (fw *FileWatcher) AddPath(path string) error {
	if err := fw.watcher.Add(filepath.Clean(path)); err != nil {
		return uerrors.NewInternalError("watching path", err).WithOp(path)
	}
	return nil
}

// AddRecursive adds a directory and all subdirectories to watch
func (fw *FileWatcher) AddRecursive(root string) error {
	root = filepath.Clean(root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return uerrors.NewInternalError("walking watch root", err).WithOp(path)
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && fw.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.AddPath(path)
	})
}

func (fw *FileWatcher) skipDir(name string) bool {
	return slices.Contains(fw.skipDirs, name)
}

// Start runs the event loop until ctx is done or Stop is called. It
// returns immediately.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.startOnce.Do(func() {
		go fw.watchLoop(ctx)
	})
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	info, statErr := os.Stat(event.Name)

	// New directories are registered so nested assets stay watched.
	if statErr == nil && info.IsDir() {
		if event.Op.Has(fsnotify.Create) && !fw.skipDir(filepath.Base(event.Name)) {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", event.Name)
			}
		}
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	handlers := fw.handlers
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	changeEvent := ChangeEvent{
		Type: eventTypeOf(event.Op),
		Path: event.Name,
	}
	if statErr == nil {
		changeEvent.ModTime = info.ModTime()
		changeEvent.Size = info.Size()
	}

	for _, handler := range handlers {
		if err := handler(changeEvent); err != nil {
			fw.logger.Warn(ctx, err, "File watcher handler error", "path", event.Name)
		}
	}
}

func eventTypeOf(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

// ExtensionFilter accepts paths whose lowercased extension is one of exts.
func ExtensionFilter(exts ...string) FileFilter {
	return func(path string) bool {
		return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
	}
}

// ExcludeFilter rejects the given paths, compared after cleaning.
func ExcludeFilter(paths ...string) FileFilter {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned = append(cleaned, filepath.Clean(p))
	}
	return func(path string) bool {
		return !slices.Contains(cleaned, filepath.Clean(path))
	}
}

// NoDirFilter rejects paths that pass through a directory named dir.
func NoDirFilter(dir string) FileFilter {
	return func(path string) bool {
		path = filepath.ToSlash(filepath.Clean(path))
		return !strings.HasPrefix(path, dir+"/") && !strings.Contains(path, "/"+dir+"/")
	}
}
