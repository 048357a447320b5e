package ledger

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// selfWriteWindow is how long after MarkSelfWrite events on the ledger file
// are attributed to our own atomic save rather than an external editor.
const selfWriteWindow = 2 * time.Second

// Watcher watches the ledger file for external modification using fsnotify.
// The sweep's own atomic saves also fire events, so the controller marks
// each save and the watcher swallows events inside the window. Anything
// else is reported on Changed, telling the controller to reload the ledger
// and rescan from the top.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changed chan struct{}

	mu        sync.Mutex
	lastWrite time.Time
}

// NewWatcher creates a Watcher for the ledger at path. fsnotify watches the
// parent directory because rename-over-replace drops a watch placed on the
// file itself.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:    abs,
		watcher: fsw,
		changed: make(chan struct{}, 1),
	}, nil
}

// MarkSelfWrite records that the sweep is about to rewrite the ledger, so
// the resulting filesystem events are not treated as external edits.
func (w *Watcher) MarkSelfWrite() {
	w.mu.Lock()
	w.lastWrite = time.Now()
	w.mu.Unlock()
}

// Changed delivers at most one pending notification of an external ledger
// edit. Notifications are coalesced; drain it at each selection point.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Ledger watcher error: %v", err)
		}
	}
}

// handleEvent flags external writes to the ledger file.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	selfWrite := time.Since(w.lastWrite) < selfWriteWindow
	w.mu.Unlock()
	if selfWrite {
		return
	}

	log.Printf("[debug] External ledger change detected: %s (%s)", event.Name, event.Op)
	select {
	case w.changed <- struct{}{}:
	default:
		// A reload is already pending; coalesce.
	}
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
