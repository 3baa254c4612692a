/*
Package statistics is the planner's cost-model data source: an in-memory
ordered count of instances per type and per edge type, backed by
github.com/google/btree so it can be walked in type order cheaply, and so
a future range-bounded estimate (e.g. "types
between X and Y") falls out of the tree's ordered iteration for free.

Grounded on AKJUS-bsc-erigon's use of google/btree for in-memory ordered
indices, adapted here from block/account indices to type/edge-type
instance counts.
*/
package statistics

import (
	"sync"

	"github.com/google/btree"

	"github.com/cuemby/vertexdb/pkg/encoding"
)

// countEntry is one google/btree item: a type or edge-type key mapped to
// its current instance count.
type countEntry struct {
	key   string
	count uint64
}

func (e countEntry) Less(other btree.Item) bool {
	return e.key < other.(countEntry).key
}

// Store holds the engine's running instance/edge counts, queried by
// pkg/planner's cost model when building an ElementCost for a constraint.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// New returns an empty Store.
func New() *Store {
	return &Store{tree: btree.New(32)}
}

func typeKey(prefix encoding.Prefix, id encoding.TypeID) string {
	return string([]byte{byte(prefix), byte(id >> 8), byte(id)})
}

func edgeKey(prefix byte, fromType encoding.TypeID) string {
	return string([]byte{prefix, byte(fromType >> 8), byte(fromType)})
}

// IncrementType adjusts the instance count for a type by delta (positive
// on create, negative on delete).
func (s *Store) IncrementType(prefix encoding.Prefix, id encoding.TypeID, delta int64) {
	s.adjust(typeKey(prefix, id), delta)
}

// IncrementEdge adjusts the count of edges of kind edgePrefix originating
// from fromType by delta.
func (s *Store) IncrementEdge(edgePrefix byte, fromType encoding.TypeID, delta int64) {
	s.adjust(edgeKey(edgePrefix, fromType), delta)
}

func (s *Store) adjust(key string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, _ := s.tree.Get(countEntry{key: key}).(countEntry)
	newCount := int64(existing.count) + delta
	if newCount < 0 {
		newCount = 0
	}
	s.tree.ReplaceOrInsert(countEntry{key: key, count: uint64(newCount)})
}

// TypeCount returns the current instance count for a type.
func (s *Store) TypeCount(prefix encoding.Prefix, id encoding.TypeID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(countEntry{key: typeKey(prefix, id)})
	if item == nil {
		return 0
	}
	return item.(countEntry).count
}

// EdgeCount returns the current count of edges of kind edgePrefix
// originating from fromType.
func (s *Store) EdgeCount(edgePrefix byte, fromType encoding.TypeID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(countEntry{key: edgeKey(edgePrefix, fromType)})
	if item == nil {
		return 0
	}
	return item.(countEntry).count
}

// Dump returns every tracked key/count pair as a map (so the tree's key
// order is not kept), used by pkg/metrics' Collector.
func (s *Store) Dump() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64)
	s.tree.Ascend(func(item btree.Item) bool {
		e := item.(countEntry)
		out[e.key] = e.count
		return true
	})
	return out
}
