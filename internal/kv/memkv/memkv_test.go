package memkv

import (
	"context"
	"testing"

	"github.com/swarmguard/workflowmesh/internal/kv"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	if _, ok, err := s.Get(ctx, []byte("a")); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := s.Get(ctx, []byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("get: v=%s ok=%v err=%v", v, ok, err)
	}
	if err := s.Delete(ctx, []byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, []byte("a")); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestScanOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	keys := []string{"b/2", "a/1", "a/3", "c/1", "a/2"}
	for _, k := range keys {
		if err := s.Put(ctx, []byte(k), []byte(k)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	it, err := s.Scan(ctx, []byte("a/"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Entry().Key))
	}
	want := []string{"a/1", "a/2", "a/3"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestBatchAtomicity(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	ops := []kv.Op{
		{Kind: kv.OpPut, Key: []byte("x"), Value: []byte("1")},
		{Kind: kv.OpPut, Key: []byte("y"), Value: []byte("2")},
		{Kind: kv.OpDelete, Key: []byte("x")},
	}
	if err := s.Batch(ctx, ops); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if _, ok, _ := s.Get(ctx, []byte("x")); ok {
		t.Fatalf("expected x deleted")
	}
	if v, ok, _ := s.Get(ctx, []byte("y")); !ok || string(v) != "2" {
		t.Fatalf("expected y=2, got %s ok=%v", v, ok)
	}
}

func TestScanRangeBounds(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	for _, k := range []string{"k1", "k2", "k3", "k4"} {
		_ = s.Put(ctx, []byte(k), []byte(k))
	}
	it, err := s.ScanRange(ctx, []byte("k2"), []byte("k4"))
	if err != nil {
		t.Fatalf("scan range: %v", err)
	}
	defer it.Close()
	var got []string
	for it.Next() {
		got = append(got, string(it.Entry().Key))
	}
	if len(got) != 2 || got[0] != "k2" || got[1] != "k3" {
		t.Fatalf("unexpected range result: %v", got)
	}
}
