// Package boltkv adapts go.etcd.io/bbolt to kv.Store, flattening the
// namespaced key space of storekeys into a single bucket so that Scan and
// ScanRange behave as plain lexicographic range queries over bytes, the way
// spec.md's embedded-KV contract requires.
package boltkv

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/workflowmesh/internal/kv"
)

var rootBucket = []byte("workflowmesh")

// Store wraps a single bbolt.DB opened at a file path, matching the
// orchestrator's persistence.go pattern of one bucket per concern — here
// collapsed to one bucket because the byte-range key codec already encodes
// namespace as a key prefix.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltkv: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltkv: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v != nil {
			found = true
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("boltkv: get: %w", err)
	}
	return out, found, nil
}

func (s *Store) Put(_ context.Context, key, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("boltkv: put: %w", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("boltkv: delete: %w", err)
	}
	return nil
}

func (s *Store) Batch(_ context.Context, ops []kv.Op) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		for _, op := range ops {
			switch op.Kind {
			case kv.OpPut:
				if err := b.Put(op.Key, op.Value); err != nil {
					return err
				}
			case kv.OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return err
				}
			default:
				return fmt.Errorf("boltkv: unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltkv: batch: %w", err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, prefix []byte) (kv.Iterator, error) {
	end := kv.PrefixUpperBound(prefix)
	return s.ScanRange(ctx, prefix, end)
}

// ScanRange snapshots [start, end) into memory up front, matching
// persistence.go's pattern of materializing scan results inside a single
// view transaction rather than holding a cursor open across calls.
func (s *Store) ScanRange(_ context.Context, start, end []byte) (kv.Iterator, error) {
	var entries []kv.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(rootBucket).Cursor()
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			if end != nil && bytes.Compare(k, end) >= 0 {
				break
			}
			kcopy := make([]byte, len(k))
			copy(kcopy, k)
			vcopy := make([]byte, len(v))
			copy(vcopy, v)
			entries = append(entries, kv.Entry{Key: kcopy, Value: vcopy})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltkv: scan range: %w", err)
	}
	return &sliceIterator{entries: entries, idx: -1}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("boltkv: close: %w", err)
	}
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

func (it *sliceIterator) Entry() kv.Entry { return it.entries[it.idx] }
func (it *sliceIterator) Err() error      { return nil }
func (it *sliceIterator) Close() error    { return nil }
