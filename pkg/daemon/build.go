package daemon

import (
	"fmt"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/extension"
	"github.com/radiocosmology/alpenhorn/pkg/importscan"
	"github.com/radiocosmology/alpenhorn/pkg/ioclass"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
)

// builtinNodeClass constructs the two Node I/O classes that ship with the
// daemon itself, "default" and "polling" (§4.4); anything else is resolved from pkg/extension's
// registry, which extensions populate from their own init().
func builtinNodeClass(name string, info alptypes.Node, root *nodefs.Root, detector *importscan.Chain) (ioclass.NodeIO, bool) {
	switch name {
	case "default":
		return ioclass.NewDefaultNode(info, root, detector), true
	case "polling":
		return ioclass.NewPollingNode(info, root, detector), true
	default:
		return nil, false
	}
}

// newNodeIO resolves info.IOClass to a concrete instance, trying the
// built-ins first and falling back to the extension registry.
func newNodeIO(info alptypes.Node, detector *importscan.Chain) (ioclass.NodeIO, error) {
	root := nodefs.NewRoot(info.Root)

	if nio, ok := builtinNodeClass(info.IOClass, info, root, detector); ok {
		return nio, nil
	}

	factory, err := extension.NodeIOClassFactory(info.IOClass)
	if err != nil {
		return nil, fmt.Errorf("daemon: node %s: %w", info.Name, err)
	}

	extNodeIO, err := factory(info, root, detector, info.IOConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("daemon: node %s: building %s: %w", info.Name, info.IOClass, err)
	}

	// extNodeIO satisfies extension.NodeIO, whose methods match
	// ioclass.NodeIO except for CheckInit's return type; wrap it so the
	// rest of the package only ever deals in ioclass types.
	return extensionNodeIOAdapter{extNodeIO}, nil
}

// newGroupIO resolves group.IOClass. members is empty for a group with no
// currently-available nodes - Idle() on such a group is vacuously true and
// Pull always errors, which is correct: there's nowhere to pull to.
func newGroupIO(group alptypes.Group, members []ioclass.NodeIO) (ioclass.GroupIO, error) {
	transfers := make([]ioclass.Transfer, 0, len(members))
	for _, m := range members {
		transfers = append(transfers, m)
	}

	switch group.IOClass {
	case "default":
		var member ioclass.Transfer
		if len(transfers) > 0 {
			member = transfers[0]
		}
		return ioclass.NewDefaultGroup(group.Name, member), nil
	case "transport":
		return ioclass.NewTransportGroup(group.Name, transfers, filledFromRoots(members)), nil
	case "quota":
		var member ioclass.Transfer
		if len(transfers) > 0 {
			member = transfers[0]
		}
		return ioclass.NewQuotaGroup(group.Name, member), nil
	}

	extTransfers := make([]extension.Transfer, 0, len(members))
	for _, m := range members {
		extTransfers = append(extTransfers, m)
	}

	factory, err := extension.GroupIOClassFactory(group.IOClass)
	if err != nil {
		return nil, fmt.Errorf("daemon: group %s: %w", group.Name, err)
	}

	extGroupIO, err := factory(group, extTransfers)
	if err != nil {
		return nil, fmt.Errorf("daemon: group %s: building %s: %w", group.Name, group.IOClass, err)
	}

	return extensionGroupIOAdapter{extGroupIO}, nil
}

// filledFromRoots builds a TransportGroup's usage callback straight off
// each member's own filesystem root and its configured capacity, rather
// than injecting a fake - the daemon always has a real nodefs.Root per
// member.
func filledFromRoots(members []ioclass.NodeIO) func(string) (uint64, uint64, error) {
	byName := make(map[string]ioclass.NodeIO, len(members))
	for _, m := range members {
		byName[m.Name()] = m
	}

	return func(nodeName string) (uint64, uint64, error) {
		m, ok := byName[nodeName]
		if !ok {
			return 0, 0, fmt.Errorf("daemon: transport group: unknown member %q", nodeName)
		}

		capacityBytes := uint64(m.Info().CapacityGB) * (1 << 30)

		availBytes, err := m.Root().BytesAvailable()
		if err != nil {
			return 0, 0, err
		}
		if availBytes < 0 || uint64(availBytes) > capacityBytes {
			return capacityBytes, capacityBytes, nil
		}

		return capacityBytes - uint64(availBytes), capacityBytes, nil
	}
}
