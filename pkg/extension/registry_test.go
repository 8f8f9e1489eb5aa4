package extension

import (
	"context"
	"testing"
	"time"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/importscan"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct{}

func (stubDetector) Name() string { return "stub" }
func (stubDetector) Detect(relPath string) (importscan.Detection, bool) {
	return importscan.Detection{}, false
}

func TestRegisterAndBuildDetectorChain(t *testing.T) {
	RegisterDetector("test-registry-stub", func() importscan.Detector { return stubDetector{} })

	chain, err := BuildDetectorChain([]string{"test-registry-stub"})
	require.NoError(t, err)
	require.NotNil(t, chain)

	_, ok := chain.Detect("anything")
	assert.False(t, ok)
}

func TestBuildDetectorChainErrorsOnUnknownName(t *testing.T) {
	_, err := BuildDetectorChain([]string{"no-such-detector-registered"})
	assert.Error(t, err)
}

type stubNodeIO struct{ alptypes.Node }

func (s stubNodeIO) CheckInit(ctx context.Context) (InitState, error)   { return InitState(0), nil }
func (s stubNodeIO) AvailableBytes(ctx context.Context) (uint64, error) { return 0, nil }
func (s stubNodeIO) BytesAvailRefreshPolicy() time.Duration             { return time.Minute }
func (s stubNodeIO) Import(ctx context.Context, idx *index.Index, relPath string, registerNew bool) error {
	return nil
}
func (s stubNodeIO) Check(ctx context.Context, idx *index.Index, file alptypes.File) error  { return nil }
func (s stubNodeIO) Delete(ctx context.Context, idx *index.Index, file alptypes.File) error { return nil }
func (s stubNodeIO) TidyUp(ctx context.Context, idx *index.Index) error                     { return nil }
func (s stubNodeIO) Ready(ctx context.Context, file alptypes.File) (bool, error)            { return true, nil }
func (s stubNodeIO) Root() *nodefs.Root                                                     { return nil }
func (s stubNodeIO) Info() alptypes.Node                                                    { return s.Node }
func (s stubNodeIO) Name() string                                                           { return s.Node.Name }

func TestRegisterNodeIOClassAndResolve(t *testing.T) {
	RegisterNodeIOClass("test-registry-node-class", func(info alptypes.Node, root *nodefs.Root, detector *importscan.Chain, ioConfigJSON string) (NodeIO, error) {
		return stubNodeIO{Node: info}, nil
	})

	factory, err := NodeIOClassFactory("test-registry-node-class")
	require.NoError(t, err)

	instance, err := factory(alptypes.Node{Name: "n1"}, nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "n1", instance.Name())
}

func TestNodeIOClassFactoryErrorsOnUnknownName(t *testing.T) {
	_, err := NodeIOClassFactory("no-such-class-registered")
	assert.Error(t, err)
}

func TestRegisterDetectorPanicsOnDuplicateName(t *testing.T) {
	RegisterDetector("test-registry-dup", func() importscan.Detector { return stubDetector{} })
	assert.Panics(t, func() {
		RegisterDetector("test-registry-dup", func() importscan.Detector { return stubDetector{} })
	})
}
