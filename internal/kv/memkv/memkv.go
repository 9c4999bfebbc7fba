// Package memkv is an in-memory implementation of kv.Store used for tests
// and for single-process deployments that don't need durability.
package memkv

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/swarmguard/workflowmesh/internal/kv"
)

// Store is a sorted in-memory map guarded by a single mutex. Simplicity over
// throughput: this backend exists for determinism in tests, not production
// load.
type Store struct {
	mu     sync.RWMutex
	keys   [][]byte
	values map[string][]byte
	closed bool
}

func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

func (s *Store) search(key []byte) int {
	return sort.Search(len(s.keys), func(i int) bool {
		return bytes.Compare(s.keys[i], key) >= 0
	})
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) Put(_ context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value)
}

func (s *Store) putLocked(key, value []byte) error {
	if s.closed {
		return fmt.Errorf("memkv: store closed")
	}
	k := string(key)
	if _, exists := s.values[k]; !exists {
		i := s.search(key)
		s.keys = append(s.keys, nil)
		copy(s.keys[i+1:], s.keys[i:])
		kcopy := make([]byte, len(key))
		copy(kcopy, key)
		s.keys[i] = kcopy
	}
	vcopy := make([]byte, len(value))
	copy(vcopy, value)
	s.values[k] = vcopy
	return nil
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key)
}

func (s *Store) deleteLocked(key []byte) error {
	if s.closed {
		return fmt.Errorf("memkv: store closed")
	}
	k := string(key)
	if _, exists := s.values[k]; !exists {
		return nil
	}
	delete(s.values, k)
	i := s.search(key)
	if i < len(s.keys) && bytes.Equal(s.keys[i], key) {
		s.keys = append(s.keys[:i], s.keys[i+1:]...)
	}
	return nil
}

func (s *Store) Batch(_ context.Context, ops []kv.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		switch op.Kind {
		case kv.OpPut:
			if err := s.putLocked(op.Key, op.Value); err != nil {
				return err
			}
		case kv.OpDelete:
			if err := s.deleteLocked(op.Key); err != nil {
				return err
			}
		default:
			return fmt.Errorf("memkv: unknown op kind %d", op.Kind)
		}
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, prefix []byte) (kv.Iterator, error) {
	end := kv.PrefixUpperBound(prefix)
	return s.ScanRange(ctx, prefix, end)
}

func (s *Store) ScanRange(_ context.Context, start, end []byte) (kv.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := s.search(start)
	var hi int
	if end == nil {
		hi = len(s.keys)
	} else {
		hi = sort.Search(len(s.keys), func(i int) bool {
			return bytes.Compare(s.keys[i], end) >= 0
		})
	}

	entries := make([]kv.Entry, 0, hi-lo)
	for i := lo; i < hi; i++ {
		k := s.keys[i]
		v := s.values[string(k)]
		kcopy := make([]byte, len(k))
		copy(kcopy, k)
		vcopy := make([]byte, len(v))
		copy(vcopy, v)
		entries = append(entries, kv.Entry{Key: kcopy, Value: vcopy})
	}
	return &sliceIterator{entries: entries, idx: -1}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type sliceIterator struct {
	entries []kv.Entry
	idx     int
}

func (it *sliceIterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *sliceIterator) Entry() kv.Entry {
	return it.entries[it.idx]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }
