package storekeys

import (
	"bytes"
	"testing"
)

func TestJournalKeyOrderMatchesSequenceOrder(t *testing.T) {
	a := Journal("wf1", 1)
	b := Journal("wf1", 2)
	c := Journal("wf1", 300)
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if bytes.Compare(b, c) >= 0 {
		t.Fatalf("expected b < c")
	}
}

func TestJournalSeqRoundTrip(t *testing.T) {
	key := Journal("wf-abc", 42)
	seq, err := JournalSeqFromKey(key, "wf-abc")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seq != 42 {
		t.Fatalf("got %d want 42", seq)
	}
}

func TestTimerKeyOrderMatchesWakeTimeOrder(t *testing.T) {
	a := Timer(100, "t1")
	b := Timer(200, "t2")
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected a < b")
	}
}

func TestStatusKeyRoundTrip(t *testing.T) {
	key := Status("Running", "wf-1")
	id, err := WorkflowIDFromStatusKey(key, "Running")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id != "wf-1" {
		t.Fatalf("got %q want wf-1", id)
	}
}

func TestNamespacesDoNotCollide(t *testing.T) {
	j := Journal("1", 0)
	s := State("1", "k")
	w := Workflow("1")
	x := Status("Running", "1")
	tm := Timer(0, "t")
	keys := [][]byte{j, s, w, x, tm}
	for i := range keys {
		for k := range keys {
			if i == k {
				continue
			}
			if bytes.Equal(keys[i], keys[k]) {
				t.Fatalf("collision between namespace keys: %q == %q", keys[i], keys[k])
			}
		}
	}
}
