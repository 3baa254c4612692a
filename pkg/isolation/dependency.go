package isolation

import (
	"sync/atomic"

	"github.com/cuemby/vertexdb/pkg/buffer"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/wal"
)

// IsolationConflict is a closed enum of the ways two concurrent commits
// can conflict, mirroring isolation_manager.rs::IsolationConflict.
type IsolationConflict uint8

const (
	// DeletingRequiredKey: this commit deletes a key the predecessor holds
	// an Unmodifiable lock on — the predecessor depends on that key
	// continuing to exist.
	DeletingRequiredKey IsolationConflict = iota
	// RequireDeletedKey: this commit holds an Unmodifiable lock on a key the
	// predecessor deleted.
	RequireDeletedKey
	// ExclusiveLock: both commits hold an Exclusive lock on the same key.
	ExclusiveLock
)

func (c IsolationConflict) Error() string {
	switch c {
	case DeletingRequiredKey:
		return "isolation: deleting a key a concurrent commit requires to exist"
	case RequireDeletedKey:
		return "isolation: requiring a key a concurrent commit deleted"
	case ExclusiveLock:
		return "isolation: conflicting exclusive lock on the same key"
	default:
		return "isolation: unknown conflict"
	}
}

// DependentPutKind distinguishes which side of a Put/Put or Delete/Put
// overlap a DependentPut describes.
type DependentPutKind uint8

const (
	// DependentPutInserted: this commit's write at the key is itself an
	// Insert or Put, and the predecessor's write at the same key is a Put
	// whose own existence is not yet resolved; this commit's visibility of
	// the key depends on how the predecessor's Put resolves.
	DependentPutInserted DependentPutKind = iota
	// DependentPutDeleted: this commit deletes a key the predecessor Put;
	// the deletion is only meaningful if the predecessor's Put is ultimately
	// applied.
	DependentPutDeleted
)

// DependentPut ties this commit's fate at one key to a predecessor's Put
// resolution. Reinsert starts at a kind-specific default and is flipped by
// Apply once the predecessor's fate (applied or aborted) is known.
type DependentPut struct {
	Keyspace keyspace.ID
	Key      []byte
	Kind     DependentPutKind
	Reinsert *atomic.Bool
}

// Apply resolves the dependent put once the predecessor's outcome is
// known, matching isolation_manager.rs::DependentPut::apply: an Inserted
// dependency's write always lands after the predecessor's Put in the
// version order, so it never needs to reinsert a value — whether or not
// the predecessor committed, this commit's own Insert/Put already
// supersedes it. A Deleted dependency's default-true reinsert is only
// retracted if the predecessor was in fact aborted (so there was nothing
// to delete).
func (d DependentPut) Apply(predecessorCommitted bool) {
	switch d.Kind {
	case DependentPutInserted:
		d.Reinsert.Store(false)
	case DependentPutDeleted:
		d.Reinsert.Store(predecessorCommitted)
	}
}

// DependencyKind tags a CommitDependency's variant.
type DependencyKind uint8

const (
	Independent DependencyKind = iota
	DependentPuts
	Conflict
)

// CommitDependency is the result of comparing a commit record against one
// concurrent predecessor.
type CommitDependency struct {
	Kind     DependencyKind
	Puts     []DependentPut
	Conflict IsolationConflict
}

func independent() CommitDependency { return CommitDependency{Kind: Independent} }

func conflict(c IsolationConflict) CommitDependency {
	return CommitDependency{Kind: Conflict, Conflict: c}
}

// ComputeDependency implements the per-key dependency table from
// isolation_manager.rs::CommitRecord::compute_dependency: this is the
// commit record being validated, predecessor is a concurrent commit
// already in the timeline. Conflicts are detected eagerly and short
// circuit; otherwise every key-level Put/Put or Delete/Put overlap
// contributes a DependentPut, and the union is returned as DependentPuts.
func ComputeDependency(this, predecessor *wal.CommitRecord) CommitDependency {
	var puts []DependentPut

	for _, id := range this.Buffer.Keyspaces() {
		thisWrites := this.Buffer.Writes(id)
		thisLocks := this.Buffer.Locks(id)

		for _, kw := range thisWrites {
			key := kw.Key
			predWrite, predHasWrite := predecessor.Buffer.Get(id, key)
			predLock, predHasLock := predecessor.Buffer.GetLock(id, key)

			switch kw.Write.Kind {
			case buffer.KindDelete:
				if predHasLock && predLock == buffer.Unmodifiable {
					return conflict(DeletingRequiredKey)
				}
				if predHasWrite && predWrite.Kind == buffer.KindPut {
					puts = append(puts, DependentPut{
						Keyspace: id, Key: key,
						Kind:     DependentPutDeleted,
						Reinsert: &kw.Write.Reinsert,
					})
				}
			case buffer.KindInsert, buffer.KindPut:
				if predHasWrite && predWrite.Kind == buffer.KindPut {
					puts = append(puts, DependentPut{
						Keyspace: id, Key: key,
						Kind:     DependentPutInserted,
						Reinsert: &kw.Write.Reinsert,
					})
				}
			}
		}

		for key, lock := range thisLocks {
			predWrite, predHasWrite := predecessor.Buffer.Get(id, []byte(key))
			if lock == Unmodifiable() && predHasWrite && predWrite.Kind == buffer.KindDelete {
				return conflict(RequireDeletedKey)
			}
			if lock == Exclusive() {
				if predLock, ok := predecessor.Buffer.GetLock(id, []byte(key)); ok && predLock == Exclusive() {
					return conflict(ExclusiveLock)
				}
			}
		}
	}

	if len(puts) == 0 {
		return independent()
	}
	return CommitDependency{Kind: DependentPuts, Puts: puts}
}

// Unmodifiable and Exclusive are thin re-exports of buffer.Lock's values,
// kept local so callers comparing lock kinds don't need to import
// pkg/buffer just for two constants.
func Unmodifiable() buffer.Lock { return buffer.Unmodifiable }
func Exclusive() buffer.Lock    { return buffer.Exclusive }
