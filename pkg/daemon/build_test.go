package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/ioclass"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

type stubNode struct {
	info alptypes.Node
	root *nodefs.Root
}

func (s stubNode) Name() string                               { return s.info.Name }
func (s stubNode) Root() *nodefs.Root                         { return s.root }
func (s stubNode) Info() alptypes.Node                        { return s.info }
func (s stubNode) CheckInit(context.Context) (ioclass.InitState, error) { return ioclass.Initialised, nil }
func (s stubNode) AvailableBytes(context.Context) (uint64, error)       { return 0, nil }
func (s stubNode) BytesAvailRefreshPolicy() time.Duration               { return time.Minute }
func (s stubNode) Import(context.Context, *index.Index, string, bool) error { return nil }
func (s stubNode) Check(context.Context, *index.Index, alptypes.File) error { return nil }
func (s stubNode) Delete(context.Context, *index.Index, alptypes.File) error { return nil }
func (s stubNode) TidyUp(context.Context, *index.Index) error               { return nil }
func (s stubNode) Ready(context.Context, alptypes.File) (bool, error)       { return true, nil }

func newStubNode(t *testing.T, name string, capacityGB int64) stubNode {
	t.Helper()
	return stubNode{
		info: alptypes.Node{Name: name, GroupName: "g1", CapacityGB: capacityGB, DaemonHost: "host-a"},
		root: nodefs.NewRoot(t.TempDir()),
	}
}

func TestNewGroupIOBuildsDefaultGroup(t *testing.T) {
	n := newStubNode(t, "node-a", 10)
	group := alptypes.Group{Name: "g1", IOClass: "default"}

	gio, err := newGroupIO(group, []ioclass.NodeIO{n})
	require.NoError(t, err)
	assert.Equal(t, "g1", gio.Name())
	assert.True(t, gio.Idle())
}

func TestNewGroupIOBuildsTransportGroup(t *testing.T) {
	n := newStubNode(t, "node-a", 10)
	group := alptypes.Group{Name: "g1", IOClass: "transport"}

	gio, err := newGroupIO(group, []ioclass.NodeIO{n})
	require.NoError(t, err)
	assert.Equal(t, "g1", gio.Name())
}

func TestNewGroupIOBuildsQuotaGroup(t *testing.T) {
	n := newStubNode(t, "node-a", 10)
	group := alptypes.Group{Name: "g1", IOClass: "quota"}

	gio, err := newGroupIO(group, []ioclass.NodeIO{n})
	require.NoError(t, err)
	assert.Equal(t, "g1", gio.Name())
}

func TestNewGroupIOErrorsOnUnknownClass(t *testing.T) {
	_, err := newGroupIO(alptypes.Group{Name: "g1", IOClass: "no-such-class"}, nil)
	assert.Error(t, err)
}

func TestFilledFromRootsReportsUsageAgainstCapacity(t *testing.T) {
	n := newStubNode(t, "node-a", 1) // 1 GiB capacity

	filled := filledFromRoots([]ioclass.NodeIO{n})

	used, capacity, err := filled("node-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<30, capacity)
	assert.LessOrEqual(t, used, capacity)
}

func TestFilledFromRootsErrorsOnUnknownMember(t *testing.T) {
	filled := filledFromRoots(nil)
	_, _, err := filled("ghost")
	assert.Error(t, err)
}

func TestNewNodeIOBuildsDefaultClass(t *testing.T) {
	info := alptypes.Node{Name: "node-a", IOClass: "default", Root: t.TempDir()}
	node, err := newNodeIO(info, nil)
	require.NoError(t, err)
	assert.Equal(t, "node-a", node.Name())
}

func TestNewNodeIOErrorsOnUnknownClass(t *testing.T) {
	info := alptypes.Node{Name: "node-a", IOClass: "no-such-class", Root: t.TempDir()}
	_, err := newNodeIO(info, nil)
	assert.Error(t, err)
}
