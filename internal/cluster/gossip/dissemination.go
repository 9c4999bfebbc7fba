// Package gossip implements spec.md §4.9's gossip protocol: the periodic
// ping/ack/ping-req failure detector, the dissemination buffer, and
// join/leave handling. Grounded on federation/sync_protocol.go's
// StartAntiEntropy/runAntiEntropyRound ticker-and-random-peer-selection
// loop (including its Fisher-Yates selectRandomPeers), retargeted from
// full-state CRDT sync to bounded gossip-update piggybacking.
package gossip

import (
	"math"
	"sort"
	"sync"

	"github.com/swarmguard/workflowmesh/internal/cluster/membership"
	"github.com/swarmguard/workflowmesh/internal/cluster/transport"
)

type bufferedUpdate struct {
	update            transport.NodeUpdate
	transmissionCount int
}

// DisseminationBuffer is the bounded table of spec.md §4.9: NodeId ->
// (update, transmissionCount). getUpdates prioritises the highest
// incarnation, increments each returned entry's count, and evicts entries
// whose count reaches maxTransmissions.
type DisseminationBuffer struct {
	mu                sync.Mutex
	entries           map[string]*bufferedUpdate
	maxTransmissions  int
}

// NewDisseminationBuffer sizes maxTransmissions as ceil(2*ln(clusterSize))
// per spec.md §4.9, with a floor of 3 so small clusters still disseminate a
// few rounds.
func NewDisseminationBuffer(clusterSize int) *DisseminationBuffer {
	if clusterSize < 1 {
		clusterSize = 1
	}
	maxT := int(math.Ceil(2 * math.Log(float64(clusterSize))))
	if maxT < 3 {
		maxT = 3
	}
	return &DisseminationBuffer{entries: make(map[string]*bufferedUpdate), maxTransmissions: maxT}
}

// Add replaces any entry for the same node whose incarnation is <= incoming.
func (b *DisseminationBuffer) Add(u transport.NodeUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, ok := b.entries[u.NodeID]
	if ok && existing.update.Incarnation > u.Incarnation {
		return
	}
	b.entries[u.NodeID] = &bufferedUpdate{update: u}
}

// GetUpdates returns up to maxUpdates entries prioritised by highest
// incarnation, incrementing each returned entry's transmission count and
// evicting any that reach maxTransmissions.
func (b *DisseminationBuffer) GetUpdates(maxUpdates int) []transport.NodeUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := make([]*bufferedUpdate, 0, len(b.entries))
	for _, e := range b.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].update.Incarnation > all[k].update.Incarnation })

	if maxUpdates > 0 && len(all) > maxUpdates {
		all = all[:maxUpdates]
	}
	out := make([]transport.NodeUpdate, 0, len(all))
	for _, e := range all {
		out = append(out, e.update)
		e.transmissionCount++
		if e.transmissionCount >= b.maxTransmissions {
			delete(b.entries, e.update.NodeID)
		}
	}
	return out
}

// nodeInfoToUpdate projects a membership.NodeInfo into the wire tuple
// carried in piggybacked messages, per spec.md §3's Gossip update.
func nodeInfoToUpdate(n membership.NodeInfo) transport.NodeUpdate {
	return transport.NodeUpdate{NodeID: n.NodeID, State: int(n.State), Incarnation: n.Incarnation, Address: n.Address}
}

func updateToNodeInfo(u transport.NodeUpdate) membership.NodeInfo {
	return membership.NodeInfo{NodeID: u.NodeID, Address: u.Address, State: membership.State(u.State), Incarnation: u.Incarnation}
}
