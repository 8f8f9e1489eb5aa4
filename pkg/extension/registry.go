// Package extension implements the compile-time registration tables of
// §4.9: named constructors for import detectors and I/O classes that
// built-in and vendored extensions register from an init() function,
// rather than a dynamic-library ABI (§9's explicit preference).
package extension

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/importscan"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

// DetectorFactory builds a Detector with no further configuration; most
// detectors are stateless, so the registry does not thread per-instance
// config through this path.
type DetectorFactory func() importscan.Detector

// NodeIOFactory builds a Node I/O instance for a specific node, given its
// Index row and an already-opened filesystem root. ioConfigJSON is the
// node's opaque io_config column, interpreted however the class wants.
type NodeIOFactory func(info alptypes.Node, root *nodefs.Root, detector *importscan.Chain, ioConfigJSON string) (NodeIO, error)

// GroupIOFactory builds a Group I/O instance for a specific group, given
// its already-resolved member nodes.
type GroupIOFactory func(group alptypes.Group, members []Transfer) (GroupIO, error)

// NodeIO, GroupIO, and Transfer mirror pkg/ioclass's interfaces method
// for method but are declared here rather than imported, so extensions
// need only this package. CheckInit and Pull use this package's own
// InitState and PullRequest types, so pkg/daemon wraps extension
// instances in adapters to use them as ioclass values.
type NodeIO interface {
	CheckInit(ctx context.Context) (InitState, error)
	AvailableBytes(ctx context.Context) (uint64, error)
	BytesAvailRefreshPolicy() time.Duration
	Import(ctx context.Context, idx *index.Index, relPath string, registerNew bool) error
	Check(ctx context.Context, idx *index.Index, file alptypes.File) error
	Delete(ctx context.Context, idx *index.Index, file alptypes.File) error
	TidyUp(ctx context.Context, idx *index.Index) error
	Ready(ctx context.Context, file alptypes.File) (bool, error)
	Root() *nodefs.Root
	Info() alptypes.Node
	Name() string
}

type GroupIO interface {
	Pull(ctx context.Context, idx *index.Index, req PullRequest) (destNode string, err error)
	Idle() bool
	Name() string
}

type Transfer interface {
	Root() *nodefs.Root
	Name() string
	Info() alptypes.Node
}

// InitState mirrors pkg/ioclass.InitState for the same import-cycle
// reason as NodeIO/GroupIO/Transfer above.
type InitState int

// PullRequest mirrors pkg/ioclass.PullRequest.
type PullRequest struct {
	File       alptypes.File
	SourceNode alptypes.Node
	CopyReqID  int64
}

var mu sync.Mutex

var (
	detectors = map[string]DetectorFactory{}
	nodeIOs   = map[string]NodeIOFactory{}
	groupIOs  = map[string]GroupIOFactory{}
)

// RegisterDetector adds name to the detector registry. Panics on a
// duplicate name, since that can only be a build-time mistake (two
// extensions claiming the same identifier), never a runtime condition.
func RegisterDetector(name string, factory DetectorFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := detectors[name]; exists {
		panic(fmt.Sprintf("extension: detector %q registered twice", name))
	}
	detectors[name] = factory
}

// RegisterNodeIOClass adds name to the Node I/O class registry.
func RegisterNodeIOClass(name string, factory NodeIOFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := nodeIOs[name]; exists {
		panic(fmt.Sprintf("extension: node I/O class %q registered twice", name))
	}
	nodeIOs[name] = factory
}

// RegisterGroupIOClass adds name to the Group I/O class registry.
func RegisterGroupIOClass(name string, factory GroupIOFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := groupIOs[name]; exists {
		panic(fmt.Sprintf("extension: group I/O class %q registered twice", name))
	}
	groupIOs[name] = factory
}

// BuildDetectorChain resolves names, in order, into a Chain. An unknown
// name aborts daemon startup (§4.9 - "an extension that fails to load
// aborts daemon startup").
func BuildDetectorChain(names []string) (*importscan.Chain, error) {
	mu.Lock()
	defer mu.Unlock()

	var ds []importscan.Detector
	haveFallback := false
	for _, name := range names {
		factory, ok := detectors[name]
		if !ok {
			return nil, fmt.Errorf("extension: unknown detector %q (known: %v)", name, sortedKeys(detectors))
		}
		ds = append(ds, factory())
		if name == "acquisition" {
			haveFallback = true
		}
	}
	if !haveFallback {
		ds = append(ds, importscan.AcquisitionDetector{})
	}
	return importscan.NewChain(ds...), nil
}

// NodeIOClassFactory resolves name to its registered constructor, or an
// error naming every class this build knows about.
func NodeIOClassFactory(name string) (NodeIOFactory, error) {
	mu.Lock()
	defer mu.Unlock()
	factory, ok := nodeIOs[name]
	if !ok {
		return nil, fmt.Errorf("extension: unknown node I/O class %q (known: %v)", name, sortedKeys(nodeIOs))
	}
	return factory, nil
}

// GroupIOClassFactory resolves name to its registered constructor.
func GroupIOClassFactory(name string) (GroupIOFactory, error) {
	mu.Lock()
	defer mu.Unlock()
	factory, ok := groupIOs[name]
	if !ok {
		return nil, fmt.Errorf("extension: unknown group I/O class %q (known: %v)", name, sortedKeys(groupIOs))
	}
	return factory, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
