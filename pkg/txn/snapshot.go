/*
Package txn implements component E: snapshots (the transaction handle
applications interact with) and the commit pipeline that turns a
snapshot's buffered writes into a durable, isolation-checked commit.

Grounded on original_source/storage/storage.rs's open_snapshot_read/
open_snapshot_write/open_snapshot_schema and
original_source/database/tests/transaction.rs's schema-lock and timeout
behavior.
*/
package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/vertexdb/pkg/buffer"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/mvcc"
	"github.com/cuemby/vertexdb/pkg/seqnum"
	"github.com/cuemby/vertexdb/pkg/wal"
)

// Mode distinguishes the three snapshot kinds spec.md §3.5 defines.
type Mode uint8

const (
	// ModeRead snapshots commit as a no-op: writes buffered on them are
	// discarded, never committed.
	ModeRead Mode = iota
	// ModeWrite snapshots buffer data-keyspace writes and take the schema
	// lock for read-only (shared) access while open.
	ModeWrite
	// ModeSchema snapshots may buffer writes to the schema keyspace too, and
	// take the schema lock exclusively, serializing against every other
	// schema or write snapshot.
	ModeSchema
)

// ErrClosed is returned by any operation on a snapshot that has already
// been committed or rolled back.
var ErrClosed = errors.New("txn: snapshot already closed")

// Snapshot is a single transaction's view of the database: a consistent
// read point (OpenSequenceNumber) plus a buffered write set that becomes
// visible only on a successful Commit.
type Snapshot struct {
	mode    Mode
	storage *mvcc.Storage
	schema  *SchemaLock
	openSeq seqnum.Number
	buf     *buffer.OperationsBuffer

	closed     bool
	releaseSeq bool
	lockToken  lockToken
}

// Open opens a read or write snapshot. Use OpenSchema for schema
// transactions.
func Open(storage *mvcc.Storage, schema *SchemaLock, mode Mode) (*Snapshot, error) {
	if mode == ModeSchema {
		return nil, fmt.Errorf("txn: use OpenSchema for schema snapshots")
	}
	token, err := schema.AcquireShared(context.Background())
	if err != nil {
		return nil, err
	}
	seq := storage.OpenSequenceNumber()
	return &Snapshot{mode: mode, storage: storage, schema: schema, openSeq: seq,
		buf: buffer.New(), releaseSeq: true, lockToken: token}, nil
}

// OpenSchema opens a schema snapshot, blocking (bounded by ctx) for
// exclusive access to the schema lock. Returns TransactionTimeout if ctx
// expires first, matching the supplemental schema-lock-acquire-timeout
// feature recovered from database/tests/transaction.rs.
func OpenSchema(ctx context.Context, storage *mvcc.Storage, schema *SchemaLock) (*Snapshot, error) {
	token, err := schema.AcquireExclusive(ctx)
	if err != nil {
		return nil, err
	}
	seq := storage.OpenSequenceNumber()
	return &Snapshot{mode: ModeSchema, storage: storage, schema: schema, openSeq: seq,
		buf: buffer.New(), releaseSeq: true, lockToken: token}, nil
}

// OpenSequenceNumber returns the sequence number this snapshot reads as of.
func (s *Snapshot) OpenSequenceNumber() seqnum.Number { return s.openSeq }

func (s *Snapshot) keyspaceFor(id keyspace.ID) error {
	if s.mode != ModeSchema && id == keyspace.Schema {
		return fmt.Errorf("txn: write to schema keyspace requires a schema snapshot")
	}
	return nil
}

// Get reads userKey in keyspace id, checking the buffered write set first
// (read-your-writes) before falling through to the storage engine's
// MVCC-visible view as of this snapshot's open sequence number.
func (s *Snapshot) Get(id keyspace.ID, userKey []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if w, ok := s.buf.Get(id, userKey); ok {
		switch w.Kind {
		case buffer.KindDelete:
			return nil, keyspace.ErrNotFound
		default:
			return w.Value, nil
		}
	}
	return s.storage.Get(id, userKey, s.openSeq)
}

// IterateRange iterates [start, end) of keyspace id, merging the buffered
// write set over the storage engine's committed view so reads-your-writes
// holds for range scans too.
func (s *Snapshot) IterateRange(id keyspace.ID, start, end []byte, fn func(key, value []byte) (bool, error)) error {
	if s.closed {
		return ErrClosed
	}
	overlay := make(map[string]*buffer.Write)
	for _, kw := range s.buf.Writes(id) {
		overlay[string(kw.Key)] = kw.Write
	}
	seen := make(map[string]bool, len(overlay))

	err := s.storage.IterateRange(id, start, end, s.openSeq, func(key, value []byte) (bool, error) {
		seen[string(key)] = true
		if w, ok := overlay[string(key)]; ok {
			if w.Kind == buffer.KindDelete {
				return true, nil
			}
			return fn(key, w.Value)
		}
		return fn(key, value)
	})
	if err != nil {
		return err
	}
	for k, w := range overlay {
		if seen[k] || w.Kind == buffer.KindDelete {
			continue
		}
		if inRange([]byte(k), start, end) {
			if cont, err := fn([]byte(k), w.Value); err != nil || !cont {
				return err
			}
		}
	}
	return nil
}

func inRange(key, start, end []byte) bool {
	if bytesLess(key, start) {
		return false
	}
	if end != nil && !bytesLess(key, end) {
		return false
	}
	return true
}

func bytesLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Insert buffers an unconditional insert of key/value in keyspace id.
func (s *Snapshot) Insert(id keyspace.ID, key, value []byte) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.keyspaceFor(id); err != nil {
		return err
	}
	s.buf.Insert(id, key, value)
	return nil
}

// Delete buffers a delete of key in keyspace id.
func (s *Snapshot) Delete(id keyspace.ID, key []byte) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.keyspaceFor(id); err != nil {
		return err
	}
	s.buf.Delete(id, key)
	return nil
}

// Put buffers a put of key/value in keyspace id. knownToExist lets the
// caller skip the commit-time existence check when it already knows the
// key's prior state (e.g. it just read it in this same snapshot).
func (s *Snapshot) Put(id keyspace.ID, key, value []byte, knownToExist bool) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.keyspaceFor(id); err != nil {
		return err
	}
	s.buf.Put(id, key, value, knownToExist)
	return nil
}

// LockKey records a lock on key in keyspace id without writing its value.
func (s *Snapshot) LockKey(id keyspace.ID, key []byte, lock buffer.Lock) error {
	if s.closed {
		return ErrClosed
	}
	s.buf.LockKey(id, key, lock)
	return nil
}

// Commit runs the commit pipeline (§4.5): resolves put statuses, durably
// sequences the commit record, validates it against concurrent
// predecessors, and on success applies its writes. A read snapshot's
// Commit is a no-op close. On any outcome the snapshot is closed and its
// read pin released.
func (s *Snapshot) Commit(ctx context.Context) (seqnum.Number, error) {
	if s.closed {
		return 0, ErrClosed
	}
	defer s.close()

	if s.mode == ModeRead || s.buf.IsEmpty() {
		return s.openSeq, nil
	}

	commitType := wal.CommitTypeData
	if s.mode == ModeSchema {
		commitType = wal.CommitTypeSchema
	}
	return s.storage.Commit(ctx, s.buf, s.openSeq, commitType)
}

// Rollback discards the snapshot's buffered writes without committing.
func (s *Snapshot) Rollback() {
	if s.closed {
		return
	}
	s.close()
}

func (s *Snapshot) close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.releaseSeq {
		s.storage.CloseRead(s.openSeq)
	}
	switch s.mode {
	case ModeSchema:
		s.schema.ReleaseExclusive(s.lockToken)
	default:
		s.schema.ReleaseShared(s.lockToken)
	}
}
