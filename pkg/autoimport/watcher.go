// Package autoimport drives the per-node filesystem watcher of §4.5:
// fsnotify events filtered through the lock-file suppression rule, a
// catch-up scan on start, and periodic tidy-up scheduling.
package autoimport

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
	"github.com/radiocosmology/alpenhorn/pkg/taskqueue"
)

var logger = log.New(os.Stderr, "autoimport: ", log.LstdFlags)

// defaultTidyUpInterval is how often a tidy-up sweep is scheduled on a
// watched node even absent any triggering event.
const defaultTidyUpInterval = 15 * time.Minute

// Importer is the narrow slice of a Node I/O class that the watcher
// needs: somewhere to send an accepted path, and somewhere to send a
// periodic tidy-up.
type Importer interface {
	Name() string
	Import(ctx context.Context, idx *index.Index, relPath string, registerNew bool) error
	TidyUp(ctx context.Context, idx *index.Index) error
}

// Watcher watches one node's root and turns fsnotify events into
// taskqueue submissions, honoring the lock-file suppression rule.
type Watcher struct {
	node Importer
	root *nodefs.Root
	idx  *index.Index
	pool *taskqueue.Pool

	fsw *fsnotify.Watcher

	scanOnly     bool
	scanInterval time.Duration

	mu     sync.Mutex
	locked map[string]bool // basenames currently suppressed by a .NAME.lock sibling
}

// New builds a watcher for node. If scanOnly is true (the Polling I/O
// class, §4.4), no fsnotify watch is placed at all and the node relies
// entirely on scanInterval-paced scans.
func New(node Importer, root *nodefs.Root, idx *index.Index, pool *taskqueue.Pool, scanOnly bool, scanInterval time.Duration) (*Watcher, error) {
	w := &Watcher{
		node:         node,
		root:         root,
		idx:          idx,
		pool:         pool,
		scanOnly:     scanOnly,
		scanInterval: scanInterval,
		locked:       map[string]bool{},
	}

	if scanOnly {
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("autoimport: new watcher for %s: %w", node.Name(), err)
	}
	if err := fsw.Add(root.AbsPath("")); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("autoimport: watch root of %s: %w", node.Name(), err)
	}
	w.fsw = fsw

	return w, nil
}

// Start enqueues the initial catch-up scan and tidy-up, then runs the
// event loop (if watching) and the periodic scan/tidy-up ticker until ctx
// is done.
func (w *Watcher) Start(ctx context.Context) {
	w.submitCatchUpScan()
	w.submitTidyUp()

	if !w.scanOnly {
		go w.runEventLoop(ctx)
	}

	go w.runTicker(ctx)
}

func (w *Watcher) Close() error {
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) runEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Printf("%s: watcher error: %v", w.node.Name(), err)
		}
	}
}

func (w *Watcher) runTicker(ctx context.Context) {
	interval := w.scanInterval
	if interval <= 0 {
		interval = defaultTidyUpInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.submitCatchUpScan()
			w.submitTidyUp()
		}
	}
}

// handleEvent applies the three filtering rules of §4.5 in order.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root.AbsPath(""), ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)

	// Rule 1: dot-files are ignored, except a ".NAME.lock" sibling,
	// which instead toggles suppression for NAME.
	if nodefs.IsHiddenOrLock(rel) {
		if target, isLock := lockTarget(base); isLock {
			w.setLocked(target, ev.Op&fsnotify.Remove == 0 && ev.Op&fsnotify.Rename == 0)
		}
		return
	}

	// Rule 2: directory events are left for the next scan tick.
	if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	// Rule 3: honor an active lock suppression as a fast path so a locked
	// file never even reaches the queue. importscan.Import re-checks the
	// lock sibling on disk itself, so this is an optimization, not the
	// only place the rule is enforced - catch-up scans and explicit
	// ImportRequests go straight to Import without passing through here.
	if w.isLocked(base) {
		logger.Printf("%s: skipping %q, locked", w.node.Name(), rel)
		return
	}

	w.submitImport(rel)
}

// lockTarget reports the NAME a ".NAME.lock" basename refers to.
func lockTarget(base string) (string, bool) {
	const suffix = ".lock"
	if len(base) <= len(suffix)+1 || base[0] != '.' || base[len(base)-len(suffix):] != suffix {
		return "", false
	}
	return base[1 : len(base)-len(suffix)], true
}

func (w *Watcher) setLocked(name string, locked bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if locked {
		w.locked[name] = true
	} else {
		delete(w.locked, name)
		// the lock's removal is itself the trigger to re-enqueue NAME,
		// per §4.5 rule 3's "a rename/close event on the file re-enqueues it".
		go w.submitImport(name)
	}
}

func (w *Watcher) isLocked(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.locked[name]
}

func (w *Watcher) submitImport(relPath string) {
	w.pool.Submit(&taskqueue.Task{
		Name:        fmt.Sprintf("import %s on %s", relPath, w.node.Name()),
		AffinityKey: w.node.Name(),
		Run: func(ctx context.Context) taskqueue.Result {
			return taskqueue.Done(w.node.Import(ctx, w.idx, relPath, true))
		},
	})
}

func (w *Watcher) submitCatchUpScan() {
	w.pool.Submit(&taskqueue.Task{
		Name:           fmt.Sprintf("catch-up scan on %s", w.node.Name()),
		AffinityKey:    w.node.Name(),
		Parallelizable: true,
		Run: func(ctx context.Context) taskqueue.Result {
			err := scanAndSubmit(ctx, w.root, w.pool, w.node, w.idx)
			return taskqueue.Done(err)
		},
	})
}

func (w *Watcher) submitTidyUp() {
	w.pool.Submit(&taskqueue.Task{
		Name:        fmt.Sprintf("tidy-up on %s", w.node.Name()),
		AffinityKey: w.node.Name(),
		Run: func(ctx context.Context) taskqueue.Result {
			return taskqueue.Done(w.node.TidyUp(ctx, w.idx))
		},
	})
}
