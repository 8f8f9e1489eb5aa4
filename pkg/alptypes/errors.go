package alptypes

import "errors"

// Sentinel errors surfaced across component boundaries; callers branch on
// these with errors.Is rather than string-matching log lines.
var (
	// ErrInvariant marks a refused operation that would violate a data-safety
	// invariant (e.g. deleting the last archive copies of a file). The
	// request is left pending rather than failed.
	ErrInvariant = errors.New("alpenhorn: invariant violation")

	// ErrNodeUnavailable means a node is not available to this daemon
	// (wrong daemon-host, inactive, or missing/mismatched marker file).
	ErrNodeUnavailable = errors.New("alpenhorn: node unavailable")

	// ErrFileMismatch means an import tried to re-register an existing
	// File under the same (acquisition, name) with a different size or hash.
	ErrFileMismatch = errors.New("alpenhorn: file registration mismatch")

	// ErrNotAccepted means every registered import detector declined a path.
	ErrNotAccepted = errors.New("alpenhorn: not an acquisition path")

	// ErrTransferFailed is the terminal state of a transfer attempt that
	// exhausted its retry budget.
	ErrTransferFailed = errors.New("alpenhorn: transfer failed")
)
