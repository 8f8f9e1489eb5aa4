// Package transfer implements the pull engine of §4.7: resolving a
// transfer command, moving bytes to a hidden temporary name, verifying,
// and atomically renaming into place under the destination's write lock.
package transfer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

// MaxAttempts bounds the retry ladder in backoff.go; after this many
// failed attempts the copy is marked Missing and the CopyRequest is left
// pending for an operator or a future retry cycle (§4.7 step 6).
const MaxAttempts = 8

// DefaultConcurrentPullCap is the default per-node in-flight pull ceiling
// (§4.7 "Backpressure"). Neither Pull nor the daemon loop compares a
// node's in-flight count against it, so concurrent pulls into one node
// are not limited by it.
const DefaultConcurrentPullCap = 2

var logger = log.New(os.Stderr, "transfer: ", log.LstdFlags)

// inFlight tracks per-destination-node in-flight pull counts for
// GroupIO.Idle() and InFlightCount.
var (
	inFlightMu sync.Mutex
	inFlight   = map[string]int{}
)

func beginPull(nodeName string) { inFlightMu.Lock(); inFlight[nodeName]++; inFlightMu.Unlock() }
func endPull(nodeName string) {
	inFlightMu.Lock()
	inFlight[nodeName]--
	if inFlight[nodeName] <= 0 {
		delete(inFlight, nodeName)
	}
	inFlightMu.Unlock()
}

// Idle reports whether nodeName currently has no in-flight pulls.
func Idle(nodeName string) bool {
	inFlightMu.Lock()
	defer inFlightMu.Unlock()
	return inFlight[nodeName] == 0
}

// InFlightCount reports nodeName's current in-flight pull count.
func InFlightCount(nodeName string) int {
	inFlightMu.Lock()
	defer inFlightMu.Unlock()
	return inFlight[nodeName]
}

// NextBackoff exposes the retry ladder (backoff.go) to the daemon loop so
// a failed Pull can be re-Defer'd without duplicating the doubling logic.
func NextBackoff(attempt int) time.Duration { return nextBackoff(attempt) }

// Pull executes one attempt of §4.7's pull algorithm for file from
// sourceNode onto destInfo/destRoot. On success the FileCopy row is set
// Healthy and the CopyRequest is completed; on failure the caller is
// expected to re-submit via the task queue's Defer with NextBackoff.
func Pull(ctx context.Context, idx *index.Index, sourceNode, destInfo alptypes.Node, destRoot *nodefs.Root, file alptypes.File, copyReqID int64) error {
	healthy, err := idx.HealthyCopyExists(file.ID, destInfo.GroupName)
	if err != nil {
		return fmt.Errorf("transfer: pre-pull check: %w", err)
	}
	if healthy {
		return idx.CompleteRequest(index.CopyRequestKind, copyReqID)
	}

	beginPull(destInfo.Name)
	defer endPull(destInfo.Name)

	if err := idx.MarkTransferStarted(copyReqID); err != nil {
		logger.Printf("MarkTransferStarted(%d): %v", copyReqID, err)
	}

	sameHost := sourceNode.DaemonHost == destInfo.DaemonHost
	tool := resolveTool(sourceNode.Address, sameHost)

	remotePath := sourceNode.Root + "/" + file.Path()
	finalRel := file.Path()
	tempRel := nodefs.TempNameFor(finalRel)

	if err := destRoot.MkdirParents(tempRel); err != nil {
		return fmt.Errorf("transfer: mkdir parents: %w", err)
	}

	localTemp := destRoot.AbsPath(tempRel)
	argv := buildCommand(tool, sourceNode, remotePath, localTemp)

	if err := runCommand(ctx, argv, logger); err != nil {
		return fmt.Errorf("transfer: attempt failed: %w", err)
	}

	if err := verifyPulled(destRoot, tempRel, file); err != nil {
		_ = destRoot.RemoveFile(tempRel)
		return fmt.Errorf("transfer: verification failed, source may be corrupt: %w", err)
	}

	destRoot.Lock().LockWrite()
	err = destRoot.AtomicRename(tempRel, finalRel)
	destRoot.Lock().UnlockWrite()
	if err != nil {
		return fmt.Errorf("transfer: atomic rename: %w", err)
	}

	if err := idx.SetCopyState(file.ID, destInfo.Name, alptypes.CopyHealthy, file.SizeBytes); err != nil {
		return fmt.Errorf("transfer: record Healthy copy: %w", err)
	}

	if err := idx.MarkTransferCompleted(copyReqID); err != nil {
		logger.Printf("MarkTransferCompleted(%d): %v", copyReqID, err)
	}

	return idx.CompleteRequest(index.CopyRequestKind, copyReqID)
}

// verifyPulled stats the temp file and compares size and MD5 to the
// File's recorded values (§4.7 step 7's verify_on_pull policy - always
// applied here, since every destination in this daemon is treated as an
// archive destination for verification purposes).
func verifyPulled(root *nodefs.Root, tempRel string, file alptypes.File) error {
	info, err := root.Stat(tempRel)
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}
	if info.Size() != file.SizeBytes {
		return fmt.Errorf("size mismatch: got %d want %d", info.Size(), file.SizeBytes)
	}

	sum, _, err := root.Hash(tempRel)
	if err != nil {
		return fmt.Errorf("hash temp file: %w", err)
	}
	if sum != file.MD5 {
		return fmt.Errorf("md5 mismatch: got %x want %x", sum, file.MD5)
	}
	return nil
}

// Delete implements Node I/O's delete(file) contract (§4.4): it requires
// at least two other archive copies to survive before unlinking, and
// leaves the copy Released rather than downgrading it when that
// precondition fails.
func Delete(ctx context.Context, idx *index.Index, root *nodefs.Root, nodeName string, file alptypes.File) error {
	n, err := idx.ArchiveCopyCount(file.ID, nodeName)
	if err != nil {
		return fmt.Errorf("transfer: archive copy count: %w", err)
	}
	if n < 2 {
		logger.Printf("WARN: refusing to delete %s on %s: only %d other archive copies", file.Path(), nodeName, n)
		return idx.SetCopyState(file.ID, nodeName, alptypes.CopyReleased, file.SizeBytes)
	}

	root.Lock().LockWrite()
	defer root.Lock().UnlockWrite()

	if err := root.RemoveFile(file.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("transfer: unlink: %w", err)
	}
	if err := root.RemoveEmptyParentsUpTo(file.Path()); err != nil {
		logger.Printf("delete: could not prune empty parents of %s: %v", file.Path(), err)
	}

	return idx.SetCopyState(file.ID, nodeName, alptypes.CopyRemoved, 0)
}

// TidyUp implements Node I/O's tidy_up() contract (§4.4): it removes
// leftover hidden temp files from aborted transfers, and clears Missing
// copies that turn out to actually be present on disk.
func TidyUp(ctx context.Context, idx *index.Index, root *nodefs.Root, nodeName string) error {
	entries, err := root.ListDir("")
	if err != nil {
		return fmt.Errorf("transfer: tidy_up list: %w", err)
	}

	for _, entry := range entries {
		if nodefs.IsHiddenOrLock(entry.Name()) && entry.Name() != alptypes.NodeMarkerName {
			if err := root.RemoveFile(entry.Name()); err != nil {
				logger.Printf("tidy_up: could not remove stale temp %q: %v", entry.Name(), err)
			}
		}
	}

	stale, err := idx.MissingCopies(nodeName, 10000)
	if err != nil {
		return fmt.Errorf("transfer: tidy_up list missing: %w", err)
	}

	for _, copy := range stale {
		file, err := idx.FileByID(copy.FileID)
		if err != nil {
			continue
		}
		if present, _ := root.Exists(file.Path()); present {
			if err := idx.SetCopyState(file.ID, nodeName, alptypes.CopyHealthy, file.SizeBytes); err != nil {
				logger.Printf("tidy_up: could not clear stale copy for %s: %v", file.Path(), err)
			}
		}
	}

	return nil
}
