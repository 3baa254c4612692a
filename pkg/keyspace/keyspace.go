/*
Package keyspace implements component A of the transactional engine: a
small fixed enumeration of ordered key-value keyspaces, backed by BoltDB
(bbolt), with atomic batched writes and range/prefix iteration.

Each keyspace is its own bbolt bucket inside a single database file. Keys
within a keyspace are lexicographically ordered, matching bbolt's own
on-disk B+tree order, so range and prefix scans fall directly out of
bbolt's cursor API. A batch write is atomic only within the keyspace it
targets (a single bbolt transaction); cross-keyspace atomicity is the
caller's responsibility, provided by the commit pipeline in pkg/txn.

This package is adapted from the teacher repo's pkg/storage/boltdb.go,
which used one bucket per cluster-resource-type (nodes, services,
containers, ...) keyed by resource ID. Here the bucket axis is the
keyspace enumeration (schema, data) and the value is an opaque
already-MVCC-encoded key/value pair managed by pkg/mvcc — this package
never interprets value bytes.
*/
package keyspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// ID identifies one of the engine's fixed keyspaces.
type ID uint8

const (
	// Schema holds type-system vertices and edges (entity-type, relation-type,
	// role-type, attribute-type, owns/plays/relates/sub and their reverses).
	Schema ID = iota
	// Data holds instance vertices and edges (entities, relations,
	// attributes, has/links and their reverses, the role-player index).
	Data

	numKeyspaces = int(Data) + 1
)

// Name returns the bucket/directory name for a keyspace.
func (id ID) Name() string {
	switch id {
	case Schema:
		return "schema"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("keyspace-%d", uint8(id))
	}
}

// All returns every keyspace ID in a stable, ascending order.
func All() []ID {
	ids := make([]ID, numKeyspaces)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// ErrNotFound is returned by Get when the key has no entry.
var ErrNotFound = errors.New("keyspace: key not found")

// Write is a single key/value mutation targeting one keyspace. A nil Value
// denotes a delete.
type Write struct {
	Keyspace ID
	Key      []byte
	Value    []byte // nil => delete
}

// Batch is a set of writes confined to a single keyspace, applied
// atomically by Store.WriteBatch.
type Batch struct {
	Keyspace ID
	Writes   []Write
}

// Store is the keyspace store interface: point get, range iterate, atomic
// per-keyspace batched write, and prefix scan.
type Store interface {
	// Get returns the value for key in keyspace id, or ErrNotFound.
	Get(id ID, key []byte) ([]byte, error)
	// IterateRange calls fn for every key in [start, end) of keyspace id, in
	// ascending lexicographic order, until fn returns false or an error.
	// A nil end means "to the end of the keyspace".
	IterateRange(id ID, start, end []byte, fn func(key, value []byte) (bool, error)) error
	// IteratePrefix calls fn for every key with the given prefix, ascending.
	IteratePrefix(id ID, prefix []byte, fn func(key, value []byte) (bool, error)) error
	// WriteBatch atomically applies every write in the batch; the batch
	// must target a single keyspace.
	WriteBatch(batch Batch) error
	// Close releases the underlying database file.
	Close() error
}

// BoltStore implements Store using a single bbolt database file with one
// bucket per keyspace.
type BoltStore struct {
	db *bolt.DB
}

// Open creates (if necessary) and opens the keyspace database file at
// <dataDir>/keyspace.db, creating one bucket per known keyspace.
func Open(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("keyspace: create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "keyspace.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("keyspace: open %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, id := range All() {
			if _, err := tx.CreateBucketIfNotExists([]byte(id.Name())); err != nil {
				return fmt.Errorf("create bucket %s: %w", id.Name(), err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *BoltStore) Get(id ID, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(id.Name()))
		v := b.Get(key)
		if v == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// IterateRange implements Store.
func (s *BoltStore) IterateRange(id ID, start, end []byte, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(id.Name())).Cursor()
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			if end != nil && compareBytes(k, end) >= 0 {
				return nil
			}
			cont, err := fn(k, v)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// IteratePrefix implements Store.
func (s *BoltStore) IteratePrefix(id ID, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(id.Name())).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			cont, err := fn(k, v)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// WriteBatch implements Store.
func (s *BoltStore) WriteBatch(batch Batch) error {
	if len(batch.Writes) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(batch.Keyspace.Name()))
		for _, w := range batch.Writes {
			if w.Value == nil {
				if err := b.Delete(w.Key); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(w.Key, w.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
