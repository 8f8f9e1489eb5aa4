package importscan

import (
	"github.com/radiocosmology/alpenhorn/pkg/namedlock"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

// hashResult is what concurrent importers of the same path share via
// hashJoin (§4.6 step 3's one-hash-per-path guarantee).
type hashResult struct {
	sum       [16]byte
	sizeBytes int64
}

// hashJoin deduplicates concurrent hashing of the same node:path pair -
// a scan-triggered import racing a watcher-triggered import for the same
// file joins the in-flight hash instead of reading it twice.
var hashJoin = namedlock.NewJoin[hashResult]()

// hashOnce computes (or joins an in-flight computation of) the MD5 and
// size of relPath on root, keyed by "node:relPath" so distinct nodes
// never contend on each other's paths.
func hashOnce(root *nodefs.Root, nodeName, relPath string) (hashResult, error) {
	key := nodeName + ":" + relPath
	return hashJoin.Do(key, func() (hashResult, error) {
		sum, n, err := root.Hash(relPath)
		if err != nil {
			return hashResult{}, err
		}
		return hashResult{sum: sum, sizeBytes: n}, nil
	})
}
