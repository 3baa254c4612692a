package mvcc

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/vertexdb/pkg/buffer"
	"github.com/cuemby/vertexdb/pkg/isolation"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/seqnum"
	"github.com/cuemby/vertexdb/pkg/wal"
)

// Storage is the MVCC storage engine: a keyspace store, a WAL, and an
// isolation manager wired together. Matches storage.rs::MVCCStorage.
type Storage struct {
	name          string
	store         keyspace.Store
	log           *wal.Log
	iso           *isolation.Manager
	logger        zerolog.Logger
	checkpointDir string
}

// Config configures Open.
type Config struct {
	Name               string
	DataDir            string
	WALDir             string
	CheckpointDir      string // empty disables checkpointing; see loadLatestCheckpoint
	TimelineWindowSize uint64
	Logger             zerolog.Logger
}

// Open creates or loads an MVCC storage engine: opens the keyspace store,
// opens the WAL, then replays every commit record whose status is known
// committed to rebuild the isolation manager's watermark. Matches
// MVCCStorage::create/MVCCStorage::load.
func Open(cfg Config) (*Storage, error) {
	store, err := keyspace.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("mvcc: open keyspace store: %w", err)
	}
	log, err := wal.Open(cfg.WALDir, wal.Options{}, cfg.Logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("mvcc: open wal: %w", err)
	}

	s := &Storage{name: cfg.Name, store: store, log: log, logger: cfg.Logger,
		checkpointDir: cfg.CheckpointDir,
		iso:           isolation.NewManager(cfg.TimelineWindowSize, cfg.Logger)}
	s.iso.SetCommitRecordLoader(s.loadCommitRecordFromWAL)

	if err := s.replay(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("mvcc: replay wal: %w", err)
	}
	return s, nil
}

// replay walks the WAL, applying every commit whose later StatusRecord
// says it was committed, and advancing the isolation manager's watermark
// past every sequence number seen either way. This is the recovery path
// exercised whether or not a checkpoint exists: replay starts at the first
// sequence number when there is no checkpoint (correct, if slower), and
// loadLatestCheckpoint (checkpoint.go) narrows the starting point to just
// past the checkpoint when one is present.
func (s *Storage) replay() error {
	start := seqnum.Min.Next()
	if ckpt, ok, err := loadLatestCheckpoint(s); err != nil {
		return err
	} else if ok {
		start = ckpt.Next()
	}

	statuses := make(map[seqnum.Number]bool)
	var commits []*wal.CommitRecord
	var commitSeqs []seqnum.Number

	err := s.log.Iterate(start, func(rec wal.Record) (bool, error) {
		if rec.Commit != nil {
			commits = append(commits, rec.Commit)
			commitSeqs = append(commitSeqs, rec.Sequence)
		}
		if rec.Status != nil {
			statuses[rec.Status.CommitSequenceNumber] = rec.Status.WasCommitted
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	for i, cr := range commits {
		seq := commitSeqs[i]
		s.iso.StartedCommit(seq, cr)
		committed, known := statuses[seq]
		if !known {
			// No status record survived (crash between sequenced write and
			// status persistence): treat as aborted, matching the original's
			// conservative recovery rule — nothing was ever confirmed applied.
			s.iso.Aborted(seq)
			continue
		}
		if committed {
			if err := s.applyWriteSet(seq, cr); err != nil {
				return fmt.Errorf("mvcc: replay apply seq %d: %w", seq, err)
			}
			s.iso.Applied(seq)
		} else {
			s.iso.Aborted(seq)
		}
	}
	return nil
}

func (s *Storage) loadCommitRecordFromWAL(seq seqnum.Number) (*wal.CommitRecord, bool) {
	var found *wal.CommitRecord
	_ = s.log.Iterate(seq, func(rec wal.Record) (bool, error) {
		if rec.Commit != nil && rec.Sequence == seq {
			found = rec.Commit
			return false, nil
		}
		return rec.Sequence <= seq, nil
	})
	return found, found != nil
}

// Watermark returns the isolation manager's current watermark.
func (s *Storage) Watermark() seqnum.Number { return s.iso.Watermark() }

// OpenSequenceNumber returns the sequence number a newly opened snapshot
// should read as of: the current watermark. Matches open_snapshot_*'s
// common derivation.
func (s *Storage) OpenSequenceNumber() seqnum.Number {
	seq := s.iso.Watermark()
	s.iso.OpenedForRead(seq)
	return seq
}

// CloseRead releases a read pin taken by OpenSequenceNumber.
func (s *Storage) CloseRead(seq seqnum.Number) { s.iso.ClosedForRead(seq) }

// Get returns the newest version of userKey visible at openSeq, or
// keyspace.ErrNotFound if no version is visible or the newest visible
// version is a delete tombstone.
func (s *Storage) Get(id keyspace.ID, userKey []byte, openSeq seqnum.Number) ([]byte, error) {
	var value []byte
	found := false
	err := s.store.IteratePrefix(id, UserKeyPrefix(userKey), func(k, v []byte) (bool, error) {
		uk, seq, op := SplitKey(k)
		if len(uk) != len(userKey) {
			return true, nil // a longer user key sharing this prefix; its versions can sort before userKey's, so skip it
		}
		if !IsVisibleTo(seq, openSeq) {
			return true, nil // keep scanning older versions
		}
		if op == OpDelete {
			found = false
			return false, nil
		}
		value = append([]byte(nil), v...)
		found = true
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, keyspace.ErrNotFound
	}
	return value, nil
}

// IterateRange calls fn once per distinct user key in [start, end) of
// keyspace id whose newest version visible at openSeq is not a delete,
// passing that version's value. Ascending user-key order.
func (s *Storage) IterateRange(id keyspace.ID, start, end []byte, openSeq seqnum.Number, fn func(key, value []byte) (bool, error)) error {
	var lastUserKey []byte
	haveLast := false
	return s.store.IterateRange(id, start, mvccEndBound(end), func(k, v []byte) (bool, error) {
		uk, seq, op := SplitKey(k)
		if haveLast && bytesEqual(uk, lastUserKey) {
			return true, nil // already resolved this user key's newest visible version
		}
		if !IsVisibleTo(seq, openSeq) {
			return true, nil
		}
		lastUserKey = append(lastUserKey[:0], uk...)
		haveLast = true
		if op == OpDelete {
			return true, nil
		}
		return fn(uk, v)
	})
}

// mvccEndBound extends a user-key range end bound to cover any MVCC
// version suffix so the underlying range scan doesn't stop short.
func mvccEndBound(end []byte) []byte {
	if end == nil {
		return nil
	}
	return append(append([]byte(nil), end...), make([]byte, VersionSuffixLen)...)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CommitError is returned by Commit when a commit is rejected.
type CommitError struct {
	Isolation *isolation.IsolationConflict
}

func (e *CommitError) Error() string {
	if e.Isolation != nil {
		return (*e.Isolation).Error()
	}
	return "mvcc: commit failed"
}

var ErrConflict = errors.New("mvcc: commit rejected by isolation manager")

// Commit runs the commit pipeline for buf, opened at openSeq, as a
// transaction of the given commit type: resolve each buffered Put's
// reinsert flag (set_initial_put_status), durably append the commit
// record to the WAL (assigning its sequence number), validate it against
// concurrent predecessors, and on success apply its writes to the
// keyspace store and persist a committed status record; on conflict,
// persist an aborted status record and return ErrConflict. Matches
// MVCCStorage::snapshot_commit.
func (s *Storage) Commit(ctx context.Context, buf *buffer.OperationsBuffer, openSeq seqnum.Number, commitType wal.CommitType) (seqnum.Number, error) {
	if err := s.resolvePutReinserts(buf, openSeq); err != nil {
		return 0, fmt.Errorf("mvcc: resolve put status: %w", err)
	}

	cr := &wal.CommitRecord{OpenSequenceNumber: openSeq, CommitType: commitType, Buffer: buf}
	seq, err := s.log.AppendCommit(cr)
	if err != nil {
		return 0, fmt.Errorf("mvcc: append commit record: %w", err)
	}

	s.iso.StartedCommit(seq, cr)
	outcome, err := s.iso.ValidateCommit(ctx, seq, cr)
	if err != nil {
		return 0, fmt.Errorf("mvcc: validate commit: %w", err)
	}
	if outcome.Conflicted {
		if err := s.log.AppendStatus(&wal.StatusRecord{CommitSequenceNumber: seq, WasCommitted: false}); err != nil {
			return 0, fmt.Errorf("mvcc: persist abort status: %w", err)
		}
		s.iso.Aborted(seq)
		conflict := outcome.Conflict
		return seq, &CommitError{Isolation: &conflict}
	}

	if err := s.applyWriteSet(seq, cr); err != nil {
		return 0, fmt.Errorf("mvcc: apply write set: %w", err)
	}
	if err := s.log.AppendStatus(&wal.StatusRecord{CommitSequenceNumber: seq, WasCommitted: true}); err != nil {
		return 0, fmt.Errorf("mvcc: persist commit status: %w", err)
	}
	s.iso.Applied(seq)
	return seq, nil
}

// resolvePutReinserts reads, for every buffered Put not already marked
// KnownToExist, whether the value already visible at openSeq is
// byte-identical to the value being put, and records the inverse as
// Reinsert so applyWriteSet can skip writing a version that would be a
// no-op. Matches MVCCStorage::set_initial_put_status /
// storage.rs's existing_stored comparison: reinsert = !existing_stored,
// where existing_stored compares value bytes, not mere key existence.
func (s *Storage) resolvePutReinserts(buf *buffer.OperationsBuffer, openSeq seqnum.Number) error {
	for _, id := range buf.Keyspaces() {
		for _, kw := range buf.Writes(id) {
			if kw.Write.Kind != buffer.KindPut {
				continue
			}
			if kw.Write.KnownToExist {
				kw.Write.Reinsert.Store(false)
				continue
			}
			existing, err := s.Get(id, kw.Key, openSeq)
			switch {
			case err == nil:
				kw.Write.Reinsert.Store(!bytes.Equal(existing, kw.Write.Value))
			case errors.Is(err, keyspace.ErrNotFound):
				kw.Write.Reinsert.Store(true)
			default:
				return err
			}
		}
	}
	return nil
}

// applyWriteSet turns buf's writes into MVCC-keyed puts at seq and applies
// them to the keyspace store, one keyspace.Batch per keyspace.
func (s *Storage) applyWriteSet(seq seqnum.Number, cr *wal.CommitRecord) error {
	for _, id := range cr.Buffer.Keyspaces() {
		writes := cr.Buffer.Writes(id)
		if len(writes) == 0 {
			continue
		}
		batch := keyspace.Batch{Keyspace: id, Writes: make([]keyspace.Write, 0, len(writes))}
		for _, kw := range writes {
			var op Operation
			var value []byte
			switch kw.Write.Kind {
			case buffer.KindDelete:
				op, value = OpDelete, []byte{}
			case buffer.KindPut:
				if !kw.Write.Reinsert.Load() {
					// The value already visible at this key matches the put:
					// no durable write, matching the "commit with only Puts
					// that already exist" boundary property.
					continue
				}
				op, value = OpInsert, kw.Write.Value
				if value == nil {
					value = []byte{}
				}
			default: // Insert
				op, value = OpInsert, kw.Write.Value
				if value == nil {
					// A nil payload (e.g. a schema edge with no associated value)
					// must not be confused with keyspace.Write's nil-means-delete
					// convention; store a non-nil empty slice instead.
					value = []byte{}
				}
			}
			batch.Writes = append(batch.Writes, keyspace.Write{
				Keyspace: id,
				Key:      BuildKey(kw.Key, seq, op),
				Value:    value,
			})
		}
		if err := s.store.WriteBatch(batch); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the WAL and keyspace store.
func (s *Storage) Close() error {
	err1 := s.log.Close()
	err2 := s.store.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
