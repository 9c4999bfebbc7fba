// Package ring implements spec.md §4.7's consistent hash ring: uniform
// MD5-based hashing truncated to 64 bits, virtual nodes per physical node,
// and atomic immutable-snapshot swap so concurrent readers see one
// consistent view. Grounded on spec.md §9's design note (no literal
// hash-ring file exists in the teacher pack) plus the atomic-swap idiom the
// federation code uses for its peer-map snapshots.
package ring

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"sync/atomic"
)

// DefaultVirtualNodes matches spec.md §6's configuration default.
const DefaultVirtualNodes = 150

type position struct {
	hash   uint64
	nodeID string
}

// snapshot is the immutable ring state swapped atomically on every
// membership change.
type snapshot struct {
	positions []position // sorted ascending by hash
	nodes     map[string]int
}

// Ring is a consistent hash ring with virtual nodes.
type Ring struct {
	virtualNodes int
	snap         atomic.Pointer[snapshot]
}

// New builds an empty ring with v virtual positions per node (falls back to
// DefaultVirtualNodes if v <= 0).
func New(v int) *Ring {
	if v <= 0 {
		v = DefaultVirtualNodes
	}
	r := &Ring{virtualNodes: v}
	r.snap.Store(&snapshot{nodes: make(map[string]int)})
	return r
}

func hashKey(s string) uint64 {
	sum := md5.Sum([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// AddNode computes v virtual positions for id, merges them into a new
// snapshot, and atomically swaps it in. A no-op if id is already present.
func (r *Ring) AddNode(id string) {
	cur := r.snap.Load()
	if _, ok := cur.nodes[id]; ok {
		return
	}
	next := &snapshot{
		positions: make([]position, len(cur.positions), len(cur.positions)+r.virtualNodes),
		nodes:     make(map[string]int, len(cur.nodes)+1),
	}
	copy(next.positions, cur.positions)
	for k, v := range cur.nodes {
		next.nodes[k] = v
	}
	for i := 0; i < r.virtualNodes; i++ {
		next.positions = append(next.positions, position{
			hash:   hashKey(fmt.Sprintf("%s#%d", id, i)),
			nodeID: id,
		})
	}
	sort.Slice(next.positions, func(i, k int) bool { return next.positions[i].hash < next.positions[k].hash })
	next.nodes[id] = r.virtualNodes
	r.snap.Store(next)
}

// RemoveNode subtracts id's stored positions and atomically swaps in the
// result. A no-op if id is absent.
func (r *Ring) RemoveNode(id string) {
	cur := r.snap.Load()
	if _, ok := cur.nodes[id]; !ok {
		return
	}
	next := &snapshot{
		positions: make([]position, 0, len(cur.positions)),
		nodes:     make(map[string]int, len(cur.nodes)-1),
	}
	for _, p := range cur.positions {
		if p.nodeID != id {
			next.positions = append(next.positions, p)
		}
	}
	for k, v := range cur.nodes {
		if k != id {
			next.nodes[k] = v
		}
	}
	r.snap.Store(next)
}

// GetNode returns the owner of key: the first position at or after
// hash(key), wrapping to the first position if none. Returns "", false iff
// the ring is empty.
func (r *Ring) GetNode(key string) (string, bool) {
	cur := r.snap.Load()
	if len(cur.positions) == 0 {
		return "", false
	}
	h := hashKey(key)
	i := sort.Search(len(cur.positions), func(i int) bool { return cur.positions[i].hash >= h })
	if i == len(cur.positions) {
		i = 0
	}
	return cur.positions[i].nodeID, true
}

// GetNodes walks the ring starting at hash(key), yielding up to n distinct
// node ids in ring order.
func (r *Ring) GetNodes(key string, n int) []string {
	cur := r.snap.Load()
	total := len(cur.nodes)
	if total == 0 || n <= 0 {
		return nil
	}
	if n > total {
		n = total
	}
	h := hashKey(key)
	start := sort.Search(len(cur.positions), func(i int) bool { return cur.positions[i].hash >= h })

	seen := make(map[string]bool, n)
	var result []string
	for i := 0; i < len(cur.positions) && len(result) < n; i++ {
		p := cur.positions[(start+i)%len(cur.positions)]
		if seen[p.nodeID] {
			continue
		}
		seen[p.nodeID] = true
		result = append(result, p.nodeID)
	}
	return result
}

// Nodes returns the set of distinct physical node ids currently on the ring.
func (r *Ring) Nodes() []string {
	cur := r.snap.Load()
	out := make([]string, 0, len(cur.nodes))
	for id := range cur.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
