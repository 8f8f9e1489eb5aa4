// Package ioclass defines the pluggable Node I/O and Group I/O contracts
// (§4.4) and the built-in classes that ship with the daemon: the Default
// and Polling node classes and the Default, Transport and quota group
// classes. Additional classes register themselves through pkg/extension.
package ioclass

import (
	"context"
	"time"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

// InitState is the result of check_init().
type InitState int

const (
	NotInitialised InitState = iota
	Initialised
	InitError
)

// NodeIO is the per-node capability set. One instance is created per
// available node at daemon startup and holds whatever session state the
// class needs (cached quota, an open SSH control connection, and so on).
type NodeIO interface {
	// CheckInit verifies or creates the ALPENHORN_NODE marker.
	CheckInit(ctx context.Context) (InitState, error)

	// AvailableBytes returns free space on the node, honoring
	// BytesAvailRefreshPolicy's cache TTL.
	AvailableBytes(ctx context.Context) (uint64, error)

	// BytesAvailRefreshPolicy declares how long a cached AvailableBytes
	// result may be reused before a recheck is warranted.
	BytesAvailRefreshPolicy() time.Duration

	// Import is handed a path relative to the node root. It consults the
	// registered detector chain and, on acceptance, publishes an
	// (acquisition, file, copy) triple through idx. Must be idempotent
	// for the same path (§4.6 step 5).
	Import(ctx context.Context, idx *index.Index, relPath string, registerNew bool) error

	// Check recomputes size and hash for file and updates its copy state
	// to Healthy, Corrupt, or Missing.
	Check(ctx context.Context, idx *index.Index, file alptypes.File) error

	// Delete removes file's copy on this node. Precondition:
	// archive_copy_count(file) >= 2 excluding this node's copy; if that
	// fails the copy is left Released rather than downgraded further.
	Delete(ctx context.Context, idx *index.Index, file alptypes.File) error

	// TidyUp scans for leftover temp files from aborted transfers and
	// deletes them, and clears stale Missing copies that are actually
	// present on disk.
	TidyUp(ctx context.Context, idx *index.Index) error

	// Ready reports lightweight pull-source readiness. HSM-like classes
	// use this to stage bytes before a pull is attempted; the default
	// implementation always returns true.
	Ready(ctx context.Context, file alptypes.File) (bool, error)

	// Root exposes the node's filesystem root for the transfer engine
	// and importer, which need direct path operations beyond this
	// interface's contract.
	Root() *nodefs.Root

	// Info returns the Index row this instance was built from.
	Info() alptypes.Node

	// Name is the node name this instance was created for.
	Name() string
}

// PullRequest is the input to Group I/O's Pull.
type PullRequest struct {
	File       alptypes.File
	SourceNode alptypes.Node
	CopyReqID  int64
}

// GroupIO is the per-group capability set, responsible for selecting a
// destination node within the group and driving the transfer.
type GroupIO interface {
	// Pull selects a destination node within the group, invokes its
	// transfer routine, and updates the resulting FileCopy row. The
	// destination node's name is returned even on failure, so a caller
	// giving up after too many attempts knows which copy to mark Missing.
	Pull(ctx context.Context, idx *index.Index, req PullRequest) (destNode string, err error)

	// Idle reports whether there are no in-flight pulls, gating periodic
	// sweeps that shouldn't run concurrently with active transfers.
	Idle() bool

	// Name is the group name this instance was created for.
	Name() string
}

// Transfer is the narrow contract the transfer engine (C7) needs from a
// destination NodeIO: a place to land pulled bytes and the Index row
// describing it. Kept separate from NodeIO so Group I/O implementations
// can be written against it without depending on the whole Node I/O
// surface.
type Transfer interface {
	Root() *nodefs.Root
	Name() string
	Info() alptypes.Node
}
