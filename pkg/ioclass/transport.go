package ioclass

import (
	"context"
	"fmt"
	"sort"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/transfer"
)

// TransportGroup is the multi-node Group I/O class for removable media
// (§4.4): pull requires source and destination to share a host (transfers
// are local copies, not remote pulls), and picks the destination node
// with the most filled bytes that still has room for the file - "fill a
// medium before starting the next" - ties broken by node name.
type TransportGroup struct {
	name    string
	members []Transfer
	filled  func(nodeName string) (usedBytes, capacityBytes uint64, err error)
}

// NewTransportGroup builds a Transport Group I/O instance over members.
// filled reports each member's current usage for the most-filled-first
// destination rule; it is injected so tests don't need a real filesystem.
func NewTransportGroup(name string, members []Transfer, filled func(string) (uint64, uint64, error)) *TransportGroup {
	return &TransportGroup{name: name, members: members, filled: filled}
}

func (g *TransportGroup) Name() string { return g.name }

func (g *TransportGroup) Idle() bool {
	for _, m := range g.members {
		if !transfer.Idle(m.Name()) {
			return false
		}
	}
	return true
}

func (g *TransportGroup) Pull(ctx context.Context, idx *index.Index, req PullRequest) (string, error) {
	dest, err := g.selectDestination(req.File.SizeBytes, req.SourceNode.DaemonHost)
	if err != nil {
		return "", err
	}
	return dest.Name(), transfer.Pull(ctx, idx, req.SourceNode, dest.Info(), dest.Root(), req.File, req.CopyReqID)
}

// selectDestination picks the most-filled member that still has room for
// a file of the given size and shares a host with the source (local-only
// transfers). Candidates are ordered by used-bytes descending, then by
// name, so the choice is deterministic.
func (g *TransportGroup) selectDestination(sizeBytes int64, sourceHost string) (Transfer, error) {
	type candidate struct {
		node Transfer
		used uint64
	}

	var candidates []candidate
	for _, m := range g.members {
		if m.Info().DaemonHost != sourceHost {
			continue
		}
		used, capacity, err := g.filled(m.Name())
		if err != nil {
			continue
		}
		if capacity < used+uint64(sizeBytes) {
			continue
		}
		candidates = append(candidates, candidate{node: m, used: used})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("ioclass: transport group %q: no member node has room for %d bytes", g.name, sizeBytes)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].used != candidates[j].used {
			return candidates[i].used > candidates[j].used
		}
		return candidates[i].node.Name() < candidates[j].node.Name()
	})

	return candidates[0].node, nil
}

// Clean removes file's copy from exactly targetNodeName within the
// group, for scenario S6's "clean this transport node specifically"
// operator action. Nothing in the daemon calls it, and the Index client
// does not read a CopyRequest's target_node column.
func (g *TransportGroup) Clean(ctx context.Context, idx *index.Index, targetNodeName string, file alptypes.File) error {
	for _, m := range g.members {
		if m.Name() != targetNodeName {
			continue
		}
		return transfer.Delete(ctx, idx, m.Root(), m.Name(), file)
	}
	return fmt.Errorf("ioclass: transport group %q has no member node %q", g.name, targetNodeName)
}
