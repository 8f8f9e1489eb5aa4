package importscan

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

func TestImportSkipsPathWithLockFileSibling(t *testing.T) {
	root := nodefs.NewRoot(t.TempDir())

	require.NoError(t, os.MkdirAll(root.AbsPath("2025"), 0o755))
	require.NoError(t, os.WriteFile(root.AbsPath("2025/data.h5"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(root.AbsPath(nodefs.LockFileFor("2025/data.h5")), nil, 0o644))

	// idx/chain are never reached on the locked path, so nil stands in
	// for them here rather than standing up a database.
	err := Import(context.Background(), nil, root, "node-a", nil, "2025/data.h5", true)
	assert.NoError(t, err)
}
