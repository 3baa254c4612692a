/*
Package buffer defines the in-memory write set a transaction accumulates
before commit: OperationsBuffer, the Write variants it holds per key, and
the Lock kinds a transaction can place on a key without necessarily
writing to it.

A snapshot never mutates the keyspace store directly. Every put/delete/
lock call lands in its OperationsBuffer, keyed per keyspace; the commit
pipeline in pkg/txn later hands the buffer to pkg/wal (as the payload of
a sequenced CommitRecord) and to pkg/isolation (as the basis for
dependency analysis against concurrent commits).

Grounded on the upstream engine's Write/LockType/OperationsBuffer
(original_source/storage/isolation_manager.rs), adapted into idiomatic Go
(an atomic.Bool rather than a Rust AtomicBool) and spread across
pkg/keyspace's ID enumeration rather than a generic keyspace trait.
*/
package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/vertexdb/pkg/keyspace"
)

// Kind distinguishes the three write variants a transaction can record
// against a key.
type Kind uint8

const (
	// KindInsert unconditionally creates a key, ignoring any prior version.
	KindInsert Kind = iota
	// KindDelete removes a key.
	KindDelete
	// KindPut writes a key's value unless an identical value is already
	// visible; whether a durable write is still needed is resolved at
	// commit time and recorded in Reinsert (see Write.Reinsert), which
	// concurrent dependency analysis may then adjust.
	KindPut
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindPut:
		return "put"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Write is one buffered mutation against a single key.
type Write struct {
	Kind  Kind
	Value []byte

	// Reinsert is only meaningful for KindPut. It is resolved during
	// set_initial_put_status (pkg/txn's commit pipeline, step 1): true if
	// the value being put differs from (or is absent from) the version
	// already visible at the transaction's open sequence number, so this
	// Put must still produce a durable write; false if a byte-identical
	// version is already visible, making the Put a no-op. KnownToExist
	// short-circuits that resolution when the caller already proved the
	// identical value exists (e.g. it just read the key in the same
	// snapshot), which resolves Reinsert to false without a second read.
	Reinsert     atomic.Bool
	KnownToExist bool
}

// NewInsert returns a Write recording an unconditional insert.
func NewInsert(value []byte) *Write { return &Write{Kind: KindInsert, Value: value} }

// NewDelete returns a Write recording a delete.
func NewDelete() *Write { return &Write{Kind: KindDelete} }

// NewPut returns a Write recording a put; knownToExist lets the caller
// assert the key's prior existence without a re-read at commit time.
func NewPut(value []byte, knownToExist bool) *Write {
	return &Write{Kind: KindPut, Value: value, KnownToExist: knownToExist}
}

// Lock is a key constraint a transaction can hold without necessarily
// writing the key's value.
type Lock uint8

const (
	// Exclusive means no other concurrent transaction may also hold an
	// Exclusive lock on the same key; used for uniqueness constraints.
	Exclusive Lock = iota
	// Unmodifiable means a concurrent transaction must not delete this key
	// out from under the lock holder; used to protect a key a transaction
	// has read and depends on continuing to exist.
	Unmodifiable
)

func (l Lock) String() string {
	switch l {
	case Exclusive:
		return "exclusive"
	case Unmodifiable:
		return "unmodifiable"
	default:
		return fmt.Sprintf("lock(%d)", uint8(l))
	}
}

// keyspaceBuffer holds the writes and locks recorded against one keyspace.
type keyspaceBuffer struct {
	mu     sync.RWMutex
	writes map[string]*Write
	locks  map[string]Lock
}

func newKeyspaceBuffer() *keyspaceBuffer {
	return &keyspaceBuffer{writes: make(map[string]*Write), locks: make(map[string]Lock)}
}

// OperationsBuffer is the full write set of one transaction, spanning
// every keyspace it has written or locked a key in.
type OperationsBuffer struct {
	mu         sync.Mutex
	keyspaces  map[keyspace.ID]*keyspaceBuffer
	readsAreOK bool
}

// New returns an empty OperationsBuffer.
func New() *OperationsBuffer {
	return &OperationsBuffer{keyspaces: make(map[keyspace.ID]*keyspaceBuffer)}
}

func (b *OperationsBuffer) keyspaceBuffer(id keyspace.ID) *keyspaceBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	kb, ok := b.keyspaces[id]
	if !ok {
		kb = newKeyspaceBuffer()
		b.keyspaces[id] = kb
	}
	return kb
}

// Insert records an unconditional insert of key in id.
func (b *OperationsBuffer) Insert(id keyspace.ID, key, value []byte) {
	kb := b.keyspaceBuffer(id)
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.writes[string(key)] = NewInsert(value)
}

// Delete records a delete of key in id.
func (b *OperationsBuffer) Delete(id keyspace.ID, key []byte) {
	kb := b.keyspaceBuffer(id)
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.writes[string(key)] = NewDelete()
}

// Put records a put of key in id. knownToExist, when true, skips the
// commit-time reinsert resolution read.
func (b *OperationsBuffer) Put(id keyspace.ID, key, value []byte, knownToExist bool) {
	kb := b.keyspaceBuffer(id)
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.writes[string(key)] = NewPut(value, knownToExist)
}

// LockKey records a lock on key in id without writing its value. A second
// call with a different lock kind upgrades in place (Unmodifiable ->
// Exclusive is the only upgrade this engine needs; the caller is
// responsible for not requesting a downgrade).
func (b *OperationsBuffer) LockKey(id keyspace.ID, key []byte, lock Lock) {
	kb := b.keyspaceBuffer(id)
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.locks[string(key)] = lock
}

// Get returns the buffered write for key in id, if any, implementing
// read-your-writes for the snapshot layer.
func (b *OperationsBuffer) Get(id keyspace.ID, key []byte) (*Write, bool) {
	b.mu.Lock()
	kb, ok := b.keyspaces[id]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	w, ok := kb.writes[string(key)]
	return w, ok
}

// GetLock returns the buffered lock on key in id, if any.
func (b *OperationsBuffer) GetLock(id keyspace.ID, key []byte) (Lock, bool) {
	b.mu.Lock()
	kb, ok := b.keyspaces[id]
	b.mu.Unlock()
	if !ok {
		return 0, false
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	l, ok := kb.locks[string(key)]
	return l, ok
}

// KeyWrite pairs a key with its buffered Write, used when iterating a
// keyspace's full write set in key order.
type KeyWrite struct {
	Key   []byte
	Write *Write
}

// Keyspaces returns the set of keyspaces this buffer has any writes or
// locks in.
func (b *OperationsBuffer) Keyspaces() []keyspace.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]keyspace.ID, 0, len(b.keyspaces))
	for id := range b.keyspaces {
		ids = append(ids, id)
	}
	return ids
}

// Writes returns every buffered write in keyspace id, unordered.
func (b *OperationsBuffer) Writes(id keyspace.ID) []KeyWrite {
	b.mu.Lock()
	kb, ok := b.keyspaces[id]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]KeyWrite, 0, len(kb.writes))
	for k, w := range kb.writes {
		out = append(out, KeyWrite{Key: []byte(k), Write: w})
	}
	return out
}

// Locks returns every buffered lock in keyspace id as key/Lock pairs.
func (b *OperationsBuffer) Locks(id keyspace.ID) map[string]Lock {
	b.mu.Lock()
	kb, ok := b.keyspaces[id]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make(map[string]Lock, len(kb.locks))
	for k, l := range kb.locks {
		out[k] = l
	}
	return out
}

// IsEmpty reports whether the buffer holds no writes and no locks in any
// keyspace.
func (b *OperationsBuffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, kb := range b.keyspaces {
		kb.mu.RLock()
		empty := len(kb.writes) == 0 && len(kb.locks) == 0
		kb.mu.RUnlock()
		if !empty {
			return false
		}
	}
	return true
}
