package importscan

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashOnceGivesConcurrentCallersSameResult(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), []byte("some bytes to hash"), 0o644))

	root := nodefs.NewRoot(dir)

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]hashResult, 10)
	errs := make([]error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			calls.Add(1)
			r, err := hashOnce(root, "nodeA", "f.bin")
			results[idx] = r
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 10, calls.Load())

	for i := range results {
		assert.NoError(t, errs[i])
		assert.Equal(t, results[0].sum, results[i].sum)
		assert.EqualValues(t, len("some bytes to hash"), results[i].sizeBytes)
	}
}

func TestHashOnceDistinguishesDifferentNodes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), []byte("abc"), 0o644))
	root := nodefs.NewRoot(dir)

	r1, err := hashOnce(root, "nodeA", "f.bin")
	require.NoError(t, err)
	r2, err := hashOnce(root, "nodeB", "f.bin")
	require.NoError(t, err)

	assert.Equal(t, r1.sum, r2.sum)
}
