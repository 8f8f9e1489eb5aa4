package autoimport

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
	"github.com/radiocosmology/alpenhorn/pkg/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTargetParsesLockFileName(t *testing.T) {
	name, ok := lockTarget(".data.h5.lock")
	assert.True(t, ok)
	assert.Equal(t, "data.h5", name)
}

func TestLockTargetRejectsNonLockDotfile(t *testing.T) {
	_, ok := lockTarget(".hidden")
	assert.False(t, ok)
}

type stubImporter struct{ name string }

func (s stubImporter) Name() string { return s.name }
func (s stubImporter) Import(ctx context.Context, idx *index.Index, relPath string, registerNew bool) error {
	return nil
}
func (s stubImporter) TidyUp(ctx context.Context, idx *index.Index) error { return nil }

func newTestWatcher(t *testing.T) (*Watcher, *taskqueue.Pool, *nodefs.Root) {
	t.Helper()
	dir := t.TempDir()
	root := nodefs.NewRoot(dir)
	pool := taskqueue.New(1, log.New(io.Discard, "", 0))

	w, err := New(stubImporter{name: "nodeA"}, root, nil, pool, true, 0)
	require.NoError(t, err)
	return w, pool, root
}

func TestSetLockedSuppressesThenReleases(t *testing.T) {
	w, pool, _ := newTestWatcher(t)

	w.setLocked("data.h5", true)
	assert.True(t, w.isLocked("data.h5"))

	before := pool.QueueDepth()
	w.setLocked("data.h5", false)
	assert.False(t, w.isLocked("data.h5"))

	require.Eventually(t, func() bool {
		return pool.QueueDepth() > before
	}, time.Second, 5*time.Millisecond)
}

func TestHandleEventIgnoresDotFilesThatArentLocks(t *testing.T) {
	w, pool, root := newTestWatcher(t)
	before := pool.QueueDepth()

	w.handleEvent(fsnotify.Event{Name: root.AbsPath(".stray"), Op: fsnotify.Create})

	assert.Empty(t, w.locked)
	assert.Equal(t, before, pool.QueueDepth())
}

func TestHandleEventEnqueuesPlainFileCreate(t *testing.T) {
	w, pool, root := newTestWatcher(t)
	before := pool.QueueDepth()

	w.handleEvent(fsnotify.Event{Name: root.AbsPath("acq/data.h5"), Op: fsnotify.Create})

	assert.Greater(t, pool.QueueDepth(), before)
}

func TestHandleEventHonorsLockSuppression(t *testing.T) {
	w, pool, root := newTestWatcher(t)
	w.setLocked("data.h5", true)
	before := pool.QueueDepth()

	w.handleEvent(fsnotify.Event{Name: root.AbsPath("data.h5"), Op: fsnotify.Create})

	assert.Equal(t, before, pool.QueueDepth())
}
