/*
Package mvcc implements component C: multi-version concurrency control
over pkg/keyspace, orchestrating pkg/wal (durability) and pkg/isolation
(commit validation) into a single storage engine.

Grounded on original_source/storage/storage.rs::MVCCStorage and its
MVCCKey: every user key stored on disk is suffixed with an inverted
8-byte sequence number and a 1-byte operation tag, so that for a fixed
user key, newer versions sort lexicographically before older ones, and a
point lookup at a given "as of" sequence number is a single forward scan
from the target key for the first version with a sequence number not
greater than it.
*/
package mvcc

import (
	"fmt"

	"github.com/cuemby/vertexdb/pkg/seqnum"
)

// Operation tags the kind of MVCC version stored at a key.
type Operation uint8

const (
	OpInsert Operation = 0x0
	OpDelete Operation = 0x1
)

// VersionSuffixLen is the width appended to every user key on disk:
// 8 bytes of inverted sequence number plus 1 byte of operation tag.
const VersionSuffixLen = seqnum.SerialisedLen + 1

// BuildKey lays out the on-disk MVCC key for userKey at seq with
// operation op: [userKey][invert(seq):8][op:1]. Matches
// MVCCKey::build exactly.
func BuildKey(userKey []byte, seq seqnum.Number, op Operation) []byte {
	out := make([]byte, len(userKey)+VersionSuffixLen)
	n := copy(out, userKey)
	seq.Invert().PutBigEndian(out[n:])
	out[n+seqnum.SerialisedLen] = byte(op)
	return out
}

// SplitKey decomposes an on-disk MVCC key into its user key, sequence
// number, and operation. It panics if raw is shorter than
// VersionSuffixLen, since that indicates a corrupt keyspace.
func SplitKey(raw []byte) (userKey []byte, seq seqnum.Number, op Operation) {
	if len(raw) < VersionSuffixLen {
		panic(fmt.Sprintf("mvcc: key too short to be an MVCC key: %d bytes", len(raw)))
	}
	split := len(raw) - VersionSuffixLen
	userKey = raw[:split]
	seq = seqnum.FromBigEndian(raw[split : split+seqnum.SerialisedLen]).Invert()
	op = Operation(raw[split+seqnum.SerialisedLen])
	return
}

// UserKeyPrefix returns the shortest on-disk key prefix that every
// version of userKey shares, used as the start of a range scan over all
// of userKey's versions (the inverted sequence number sorts the newest
// version first; the scan excludes no version, and IsVisibleTo filters
// afterward).
func UserKeyPrefix(userKey []byte) []byte {
	return append([]byte(nil), userKey...)
}

// IsVisibleTo reports whether a version committed at seq is visible to a
// snapshot opened at openSeq: strictly not-later than the snapshot's open
// sequence number.
func IsVisibleTo(seq, openSeq seqnum.Number) bool { return seq <= openSeq }
