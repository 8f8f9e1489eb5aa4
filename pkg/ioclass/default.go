package ioclass

import (
	"context"
	"fmt"
	"time"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/importscan"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
	"github.com/radiocosmology/alpenhorn/pkg/transfer"
)

const defaultBytesAvailTTL = 5 * time.Minute

// DefaultNode is the plain local-disk Node I/O class: one root, MD5 on
// import/check, unlink-and-prune on delete.
type DefaultNode struct {
	info     alptypes.Node
	root     *nodefs.Root
	detector *importscan.Chain

	cachedAt time.Time
	cached   int64
}

// NewDefaultNode builds the ordinary local-disk Node I/O class for info.
func NewDefaultNode(info alptypes.Node, root *nodefs.Root, detector *importscan.Chain) *DefaultNode {
	return &DefaultNode{info: info, root: root, detector: detector}
}

func (d *DefaultNode) Name() string        { return d.info.Name }
func (d *DefaultNode) Root() *nodefs.Root  { return d.root }
func (d *DefaultNode) Info() alptypes.Node { return d.info }

func (d *DefaultNode) BytesAvailRefreshPolicy() time.Duration { return defaultBytesAvailTTL }

func (d *DefaultNode) CheckInit(ctx context.Context) (InitState, error) {
	ok, err := nodefs.CheckMarker(d.root, d.info.Name)
	if err != nil {
		return InitError, err
	}
	if ok {
		return Initialised, nil
	}
	return NotInitialised, nil
}

func (d *DefaultNode) AvailableBytes(ctx context.Context) (uint64, error) {
	if time.Since(d.cachedAt) < d.BytesAvailRefreshPolicy() {
		return uint64(d.cached), nil
	}

	n, err := d.root.BytesAvailable()
	if err != nil {
		return 0, err
	}

	d.cached = n
	d.cachedAt = time.Now()
	return uint64(n), nil
}

func (d *DefaultNode) Import(ctx context.Context, idx *index.Index, relPath string, registerNew bool) error {
	return importscan.Import(ctx, idx, d.root, d.info.Name, d.detector, relPath, registerNew)
}

func (d *DefaultNode) Check(ctx context.Context, idx *index.Index, file alptypes.File) error {
	return importscan.Verify(ctx, idx, d.root, d.info.Name, file)
}

func (d *DefaultNode) Delete(ctx context.Context, idx *index.Index, file alptypes.File) error {
	return transfer.Delete(ctx, idx, d.root, d.info.Name, file)
}

func (d *DefaultNode) TidyUp(ctx context.Context, idx *index.Index) error {
	return transfer.TidyUp(ctx, idx, d.root, d.info.Name)
}

func (d *DefaultNode) Ready(ctx context.Context, file alptypes.File) (bool, error) {
	return true, nil
}

// DefaultGroup is the trivial single-node Group I/O class: pull always
// targets its one member node.
type DefaultGroup struct {
	name string
	node Transfer
}

// NewDefaultGroup builds a Group I/O instance backed by a single node.
func NewDefaultGroup(name string, node Transfer) *DefaultGroup {
	return &DefaultGroup{name: name, node: node}
}

func (g *DefaultGroup) Name() string { return g.name }
func (g *DefaultGroup) Idle() bool   { return g.node == nil || transfer.Idle(g.node.Name()) }

func (g *DefaultGroup) Pull(ctx context.Context, idx *index.Index, req PullRequest) (string, error) {
	if g.node == nil {
		return "", fmt.Errorf("ioclass: group %q has no member node", g.name)
	}
	return g.node.Name(), transfer.Pull(ctx, idx, req.SourceNode, g.node.Info(), g.node.Root(), req.File, req.CopyReqID)
}
