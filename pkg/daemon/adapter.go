package daemon

import (
	"context"

	"github.com/radiocosmology/alpenhorn/pkg/extension"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/ioclass"
)

// extensionNodeIOAdapter and extensionGroupIOAdapter exist purely because
// pkg/extension declares its own interfaces rather than importing
// pkg/ioclass (see pkg/extension/registry.go), and they differ in their
// named types: extension.NodeIO's CheckInit returns extension.InitState
// and extension.GroupIO's Pull takes an extension.PullRequest. The
// adapters convert those and re-expose the calls under the ioclass interfaces so
// pkg/daemon's maps can hold one NodeIO/GroupIO type regardless of where
// the concrete instance came from.
type extensionNodeIOAdapter struct{ extension.NodeIO }

func (a extensionNodeIOAdapter) CheckInit(ctx context.Context) (ioclass.InitState, error) {
	s, err := a.NodeIO.CheckInit(ctx)
	return ioclass.InitState(s), err
}

type extensionGroupIOAdapter struct{ extension.GroupIO }

func (a extensionGroupIOAdapter) Pull(ctx context.Context, idx *index.Index, req ioclass.PullRequest) (string, error) {
	return a.GroupIO.Pull(ctx, idx, extension.PullRequest{
		File:       req.File,
		SourceNode: req.SourceNode,
		CopyReqID:  req.CopyReqID,
	})
}
