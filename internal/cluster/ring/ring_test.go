package ring

import (
	"fmt"
	"testing"
)

func TestGetNodeDeterministicForSameSnapshot(t *testing.T) {
	r := New(150)
	r.AddNode("node-1")
	r.AddNode("node-2")
	r.AddNode("node-3")

	owner, ok := r.GetNode("key-1")
	if !ok {
		t.Fatalf("expected a node")
	}
	for i := 0; i < 10; i++ {
		got, ok := r.GetNode("key-1")
		if !ok || got != owner {
			t.Fatalf("expected stable owner %s, got %s", owner, got)
		}
	}
}

func TestEmptyRingReturnsFalse(t *testing.T) {
	r := New(150)
	if _, ok := r.GetNode("anything"); ok {
		t.Fatalf("expected no owner on empty ring")
	}
}

func TestRemoveNodeOnlyMovesAffectedKeys(t *testing.T) {
	r := New(150)
	r.AddNode("node-1")
	r.AddNode("node-2")
	r.AddNode("node-3")

	keys := make([]string, 100)
	before := make(map[string]string, 100)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		owner, _ := r.GetNode(keys[i])
		before[keys[i]] = owner
	}

	r.RemoveNode("node-2")

	for _, k := range keys {
		after, ok := r.GetNode(k)
		if !ok {
			t.Fatalf("expected owner for %s", k)
		}
		if before[k] == "node-2" {
			if after != "node-1" && after != "node-3" {
				t.Fatalf("key %s previously on node-2 should move to node-1 or node-3, got %s", k, after)
			}
		} else if before[k] != after {
			t.Fatalf("key %s should be unaffected by node-2's removal: before=%s after=%s", k, before[k], after)
		}
	}
}

func TestGetNodesReturnsDistinctNodesInRingOrder(t *testing.T) {
	r := New(150)
	r.AddNode("node-1")
	r.AddNode("node-2")
	r.AddNode("node-3")

	nodes := r.GetNodes("key-1", 2)
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %v", nodes)
	}
	if nodes[0] == nodes[1] {
		t.Fatalf("expected distinct nodes, got %v", nodes)
	}
}
