package autoimport

import (
	"context"
	"fmt"

	"github.com/radiocosmology/alpenhorn/pkg/importscan"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
	"github.com/radiocosmology/alpenhorn/pkg/taskqueue"
)

// scanAndSubmit walks root and enqueues one import task per regular file
// found, per §4.5's catch-up scan and §4.6's "Scan of a directory" -
// enqueueing rather than importing inline keeps the scanning goroutine
// itself responsive on a large tree.
func scanAndSubmit(ctx context.Context, root *nodefs.Root, pool *taskqueue.Pool, node Importer, idx *index.Index) error {
	return importscan.ScanDirectory(ctx, root, "", func(relPath string) error {
		pool.Submit(&taskqueue.Task{
			Name:        fmt.Sprintf("scan-import %s on %s", relPath, node.Name()),
			AffinityKey: node.Name(),
			Run: func(ctx context.Context) taskqueue.Result {
				return taskqueue.Done(node.Import(ctx, idx, relPath, true))
			},
		})
		return nil
	})
}
