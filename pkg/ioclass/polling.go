package ioclass

import (
	"time"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/importscan"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

// PollingNode behaves exactly like DefaultNode except that it disables
// filesystem-event auto-import (§4.4): C5's watcher skips nodes of this
// class, relying instead on the periodic scan tick. Useful for
// filesystems (NFS, some removable media) without reliable inotify-style
// event delivery.
type PollingNode struct {
	*DefaultNode
}

// NewPollingNode builds the scan-only Node I/O class for info.
func NewPollingNode(info alptypes.Node, root *nodefs.Root, detector *importscan.Chain) *PollingNode {
	return &PollingNode{DefaultNode: NewDefaultNode(info, root, detector)}
}

// WatchDisabled reports that this class takes no fsnotify watch. The daemon
// does not call it: pkg/daemon recognises a scan-only node by its
// ScanInterval method.
func (p *PollingNode) WatchDisabled() bool { return true }

var _ NodeIO = (*PollingNode)(nil)

// pollingScanInterval is how often C5 re-scans a Polling node's tree in
// lieu of filesystem events.
const pollingScanInterval = time.Minute

// ScanInterval reports how often pkg/autoimport should re-scan this
// node's tree instead of relying on filesystem events.
func (p *PollingNode) ScanInterval() time.Duration { return pollingScanInterval }
