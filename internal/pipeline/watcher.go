package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sentineld/sentineld/internal/fsid"
	"github.com/sentineld/sentineld/internal/logging"
)

// Watcher subscribes to directory change notifications for a configured
// set of roots, filtering excluded roots before
// emission. fsnotify watches are not recursive, so Watcher walks each
// root at startup to register every subdirectory, then registers newly
// created directories as they appear.
type Watcher struct {
	log  *logging.Logger
	fsw  *fsnotify.Watcher
	opts fsid.WalkOptions
	out  chan<- FileEvent
}

// NewWatcher creates a Watcher that filters against opts and emits onto
// out. roots are added (recursively) immediately.
func NewWatcher(roots []string, opts fsid.WalkOptions, out chan<- FileEvent) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		log:  logging.New("WATCHER"),
		fsw:  fsw,
		opts: opts,
		out:  out,
	}
	for _, root := range roots {
		w.addTree(root)
	}
	return w, nil
}

// addTree registers root and every non-excluded subdirectory with the
// underlying fsnotify watcher.
func (w *Watcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.opts.UnderQuarantineRoot(path) {
			return filepath.SkipDir
		}
		if path != root && w.opts.IsExcludedFolder(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Printf("failed to watch %s: %v", path, err)
		}
		return nil
	})
}

// Run consumes fsnotify events until stop is closed, translating them
// into FileEvents and pushing them onto out. Directories created while
// running are registered for watching; excluded roots and excluded
// extensions are filtered before emission.
func (w *Watcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Printf("watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.opts.UnderQuarantineRoot(ev.Name) {
		return
	}
	if w.opts.IsExcludedExtension(ev.Name) {
		return
	}

	var kind ChangeKind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = Created
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.opts.IsExcludedFolder(filepath.Base(ev.Name)) {
				if err := w.fsw.Add(ev.Name); err != nil {
					w.log.Printf("failed to watch new directory %s: %v", ev.Name, err)
				}
			}
			return
		}
	case ev.Op&fsnotify.Write != 0:
		kind = Modified
	case ev.Op&fsnotify.Rename != 0:
		kind = Renamed
	default:
		return
	}

	w.out <- FileEvent{Path: ev.Name, ChangeKind: kind, TimestampUTC: time.Now().UTC()}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
