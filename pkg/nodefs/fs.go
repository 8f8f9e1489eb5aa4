// Package nodefs implements read/write access to a Storage Node's root,
// with an UpDownLock separating bulk scans from single-file mutations.
// Every operation here takes a path relative to the node root; absolute
// path assembly happens only here, never in callers (§4.3).
package nodefs

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
)

// Root is a Storage Node's local filesystem root.
type Root struct {
	path string
	lock *UpDownLock
}

func NewRoot(path string) *Root {
	return &Root{path: path, lock: NewUpDownLock()}
}

func (r *Root) Lock() *UpDownLock { return r.lock }

// abs turns a root-relative path into an absolute one. rel must never be
// absolute - that would be a programming error, not a user error, so we
// panic rather than silently doing the wrong thing.
func (r *Root) abs(rel string) string {
	if filepath.IsAbs(rel) {
		panic(fmt.Sprintf("nodefs: got absolute path %q, want root-relative", rel))
	}
	return filepath.Join(r.path, filepath.FromSlash(rel))
}

func (r *Root) Exists(rel string) (bool, error) {
	_, err := os.Stat(r.abs(rel))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (r *Root) Stat(rel string) (os.FileInfo, error) {
	return os.Stat(r.abs(rel))
}

// Hash computes the MD5 of rel, streaming at 1MiB chunks, without holding
// the file open for longer than the read itself (§9 - do not hold the file
// open across a rename).
func (r *Root) Hash(rel string) ([16]byte, int64, error) {
	f, err := os.Open(r.abs(rel))
	if err != nil {
		return [16]byte{}, 0, err
	}
	defer f.Close()

	h := md5.New()
	n, err := io.CopyBuffer(h, f, make([]byte, 1<<20))
	if err != nil {
		return [16]byte{}, 0, err
	}

	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum, n, nil
}

// AtomicRename moves fromRel to toRel within the root using os.Rename,
// which is atomic on a POSIX filesystem. Callers must hold LockWrite for
// the duration (§4.3, §4.7 step 8) so that a concurrent scan never
// observes a file mid-move.
func (r *Root) AtomicRename(fromRel, toRel string) error {
	if err := r.MkdirParents(toRel); err != nil {
		return err
	}
	return os.Rename(r.abs(fromRel), r.abs(toRel))
}

// MkdirParents ensures the parent directory of rel exists.
func (r *Root) MkdirParents(rel string) error {
	return os.MkdirAll(filepath.Dir(r.abs(rel)), 0o755)
}

func (r *Root) RemoveFile(rel string) error {
	return os.Remove(r.abs(rel))
}

// RemoveEmptyParentsUpTo deletes now-empty parent directories of rel,
// walking upward, but never removes the root itself or anything outside
// it (§4.4 delete()).
func (r *Root) RemoveEmptyParentsUpTo(rel string) error {
	dir := filepath.Dir(r.abs(rel))

	for {
		cleanDir := filepath.Clean(dir)
		cleanRoot := filepath.Clean(r.path)
		if cleanDir == cleanRoot || !isWithin(cleanRoot, cleanDir) {
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if len(entries) > 0 {
			return nil
		}

		if err := os.Remove(dir); err != nil {
			return err
		}

		dir = filepath.Dir(dir)
	}
}

func isWithin(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !filepathHasDotDotPrefix(rel)
}

func filepathHasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

// BytesAvailable returns free space on the filesystem backing the root.
func (r *Root) BytesAvailable() (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(r.path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// ListDir lists the immediate entries of rel, relative to the root.
func (r *Root) ListDir(rel string) ([]os.DirEntry, error) {
	return os.ReadDir(r.abs(rel))
}

// AbsPath exposes the absolute path for rel, for callers (the transfer
// engine's subprocess argv) that must hand an external tool a real
// filesystem path rather than going through Root's own methods.
func (r *Root) AbsPath(rel string) string {
	return r.abs(rel)
}

// TempNameFor returns a hidden temporary destination name for an in-flight
// write to finalRel, per §6: "<dirname>/.<basename>.<random>". The
// auto-import watcher is required to ignore names with this shape.
func TempNameFor(finalRel string) string {
	dir := filepath.Dir(finalRel)
	base := filepath.Base(finalRel)
	suffix := rand.Int31()
	name := fmt.Sprintf(".%s.%d", base, suffix)
	if dir == "." {
		return name
	}
	return filepath.Join(dir, name)
}

// LockFileFor returns the sibling lock-file name for basename, per §4.5
// rule 1: ".<NAME>.lock".
func LockFileFor(rel string) string {
	dir := filepath.Dir(rel)
	base := filepath.Base(rel)
	name := "." + base + ".lock"
	if dir == "." {
		return name
	}
	return filepath.Join(dir, name)
}

// IsHiddenOrLock reports whether basename begins with "." - used by the
// watcher and the scanner to skip lock files and other dot-files, and by
// tidy-up to find leftover temp files.
func IsHiddenOrLock(rel string) bool {
	return len(filepath.Base(rel)) > 0 && filepath.Base(rel)[0] == '.'
}

var errMarkerMismatch = errors.New("nodefs: node marker content mismatch")

// markerChecks counts marker verifications; it is atomic so CheckMarker
// calls from multiple goroutines don't race on it.
var markerChecks atomic.Int64

// CheckMarker verifies the ALPENHORN_NODE marker file at the root matches
// wantName, per §3's definition of node availability. It returns
// (initialised=false, nil) if the marker is entirely absent - that's a
// legitimate "not yet initialised" state, not an error.
func CheckMarker(root *Root, wantName string) (initialised bool, err error) {
	exists, err := root.Exists(alpenhornNodeMarkerRel)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	f, err := os.Open(root.abs(alpenhornNodeMarkerRel))
	if err != nil {
		return false, err
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, 4096))
	if err != nil {
		return false, err
	}

	got := trimTrailingNewline(string(content))
	if got != wantName {
		return false, fmt.Errorf("%w: marker says %q, want %q", errMarkerMismatch, got, wantName)
	}

	markerChecks.Add(1)
	return true, nil
}

// WriteMarker creates the ALPENHORN_NODE marker with the node's name.
func WriteMarker(root *Root, name string) error {
	return os.WriteFile(root.abs(alpenhornNodeMarkerRel), []byte(name+"\n"), 0o644)
}

const alpenhornNodeMarkerRel = "ALPENHORN_NODE"

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
