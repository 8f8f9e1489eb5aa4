package importscan

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

var logger = log.New(os.Stderr, "importscan: ", log.LstdFlags)

// Import runs the five-step algorithm of §4.6 for a single path on node,
// relative to root. It must be idempotent: importing the same path twice
// (a watcher event racing a catch-up scan, say) is not an error.
func Import(ctx context.Context, idx *index.Index, root *nodefs.Root, nodeName string, chain *Chain, relPath string, registerNew bool) error {
	if err := rejectReserved(relPath); err != nil {
		return err
	}

	locked, err := root.Exists(nodefs.LockFileFor(relPath))
	if err != nil {
		return fmt.Errorf("importscan: checking lock file for %q: %w", relPath, err)
	}
	if locked {
		logger.Printf("not importing %q: lock file present", relPath)
		return nil
	}

	detection, accepted := chain.Detect(relPath)
	if !accepted {
		logger.Printf("Not importing non-acquisition path %q on %s", relPath, nodeName)
		return nil
	}

	if !registerNew {
		exists, err := idx.AcquisitionExists(detection.AcqName)
		if err != nil {
			return fmt.Errorf("importscan: check acquisition %q: %w", detection.AcqName, err)
		}
		if !exists {
			logger.Printf("skipping %q: acquisition %q is new and register_new is off", relPath, detection.AcqName)
			return nil
		}
	}

	root.Lock().LockScan()
	info, statErr := root.Stat(relPath)
	root.Lock().UnlockScan()
	if statErr != nil {
		return fmt.Errorf("importscan: stat %q: %w", relPath, statErr)
	}

	hashed, err := hashOnce(root, nodeName, relPath)
	if err != nil {
		return fmt.Errorf("importscan: hash %q: %w", relPath, err)
	}

	if err := idx.UpsertAcquisition(detection.AcqName, detection.AcqType); err != nil {
		return fmt.Errorf("importscan: upsert acquisition %q: %w", detection.AcqName, err)
	}

	fileName := detection.FileName
	if fileName == "" {
		fileName = filepath.Base(relPath)
	}

	fileID, err := idx.UpsertFile(detection.AcqName, fileName, info.Size(), hashed.sum)
	if err != nil {
		return fmt.Errorf("importscan: upsert file %s/%s: %w", detection.AcqName, fileName, err)
	}

	if err := idx.SetCopyState(fileID, nodeName, alptypes.CopyHealthy, hashed.sizeBytes); err != nil {
		return fmt.Errorf("importscan: record copy: %w", err)
	}

	return nil
}

// Verify implements Node I/O's check(file) contract (§4.4): recompute
// size and hash and set the copy's state to Healthy, Corrupt, or Missing.
func Verify(ctx context.Context, idx *index.Index, root *nodefs.Root, nodeName string, file alptypes.File) error {
	root.Lock().LockScan()
	present, statErr := root.Exists(file.Path())
	root.Lock().UnlockScan()
	if statErr != nil {
		return fmt.Errorf("importscan: exists %q: %w", file.Path(), statErr)
	}

	if !present {
		return idx.SetCopyState(file.ID, nodeName, alptypes.CopyMissing, 0)
	}

	hashed, err := hashOnce(root, nodeName, file.Path())
	if err != nil {
		return fmt.Errorf("importscan: hash %q: %w", file.Path(), err)
	}

	if hashed.sum != file.MD5 || hashed.sizeBytes != file.SizeBytes {
		logger.Printf("corrupt copy detected: %s on %s (got size=%d md5=%x, want size=%d md5=%x)",
			file.Path(), nodeName, hashed.sizeBytes, hashed.sum, file.SizeBytes, file.MD5)
		return idx.SetCopyState(file.ID, nodeName, alptypes.CopyCorrupt, hashed.sizeBytes)
	}

	return idx.SetCopyState(file.ID, nodeName, alptypes.CopyHealthy, hashed.sizeBytes)
}

// ScanDirectory walks root in sorted order and calls emit for every
// regular file found, relative to root. Directories are walked
// depth-first; emit is expected to enqueue an import task rather than
// import synchronously, so a large tree doesn't block the scanning
// goroutine (§4.6 "Scan of a directory").
func ScanDirectory(ctx context.Context, root *nodefs.Root, dirRel string, emit func(relPath string) error) error {
	entries, err := root.ListDir(dirRel)
	if err != nil {
		return fmt.Errorf("importscan: list %q: %w", dirRel, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel := entry.Name()
		if dirRel != "" {
			rel = dirRel + "/" + entry.Name()
		}

		if nodefs.IsHiddenOrLock(rel) || rel == alptypes.NodeMarkerName {
			continue
		}

		if entry.IsDir() {
			if err := ScanDirectory(ctx, root, rel, emit); err != nil {
				return err
			}
			continue
		}

		if err := emit(rel); err != nil {
			return err
		}
	}

	return nil
}
