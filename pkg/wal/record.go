/*
Package wal implements component B: a write-ahead log of durability
records, each either sequenced (assigned a commit sequence number — a
CommitRecord) or unsequenced (a StatusRecord, recording the outcome of a
previously sequenced commit once validated).

Wire format, grounded on spec.md §6 and the record framing implied by
original_source/storage/isolation_manager.rs's DurabilityRecord trait
(RecordType, serialise/deserialise, the sequenced/unsequenced split):

	record := seq:8 type:1 varint-len:1-10 payload:len
	seq     := the commit's sequence number, or 0 for a status record
	type    := 0x00 commit | 0x01 status

A CommitRecord's payload is the encoded OperationsBuffer (writes and
locks, per keyspace) plus the transaction's open sequence number and
commit type (data or schema). A StatusRecord's payload references the
sequence number of the commit it resolves and whether it was ultimately
applied.
*/
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/vertexdb/pkg/buffer"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/seqnum"
)

// RecordType distinguishes sequenced from unsequenced durability records.
type RecordType uint8

const (
	RecordTypeCommit RecordType = 0x00
	RecordTypeStatus RecordType = 0x01
)

// CommitType distinguishes a data transaction's commit from a schema
// transaction's commit; schema commits take the engine-wide schema lock
// (see pkg/txn) and are serialized against every other commit.
type CommitType uint8

const (
	CommitTypeData CommitType = iota
	CommitTypeSchema
)

// CommitRecord is the sequenced durability record written for every
// committing transaction, before validation. It carries the buffered
// writes and locks (per keyspace) that the isolation manager will later
// check for conflicts against concurrent predecessors.
type CommitRecord struct {
	OpenSequenceNumber seqnum.Number
	CommitType         CommitType
	Buffer             *buffer.OperationsBuffer
}

// StatusRecord is the unsequenced durability record written once a
// CommitRecord's fate (applied or aborted) is known.
type StatusRecord struct {
	CommitSequenceNumber seqnum.Number
	WasCommitted         bool
}

// encodeCommitRecord serialises a CommitRecord's payload.
//
// Layout: open_sequence_number:8 commit_type:1 num_keyspaces:varint
// { keyspace_id:1 num_writes:varint { key_len:varint key write_kind:1
// reinsert:1 known_to_exist:1 value_len:varint value }*
// num_locks:varint { key_len:varint key lock_kind:1 }* }*
func encodeCommitRecord(cr *CommitRecord) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte

	seqBuf := make([]byte, seqnum.SerialisedLen)
	cr.OpenSequenceNumber.PutBigEndian(seqBuf)
	buf = append(buf, seqBuf...)
	buf = append(buf, byte(cr.CommitType))

	ids := cr.Buffer.Keyspaces()
	n := binary.PutUvarint(tmp[:], uint64(len(ids)))
	buf = append(buf, tmp[:n]...)

	for _, id := range ids {
		buf = append(buf, byte(id))

		writes := cr.Buffer.Writes(id)
		n = binary.PutUvarint(tmp[:], uint64(len(writes)))
		buf = append(buf, tmp[:n]...)
		for _, kw := range writes {
			n = binary.PutUvarint(tmp[:], uint64(len(kw.Key)))
			buf = append(buf, tmp[:n]...)
			buf = append(buf, kw.Key...)
			buf = append(buf, byte(kw.Write.Kind))
			reinsert := kw.Write.Reinsert.Load()
			buf = append(buf, boolByte(reinsert), boolByte(kw.Write.KnownToExist))
			n = binary.PutUvarint(tmp[:], uint64(len(kw.Write.Value)))
			buf = append(buf, tmp[:n]...)
			buf = append(buf, kw.Write.Value...)
		}

		locks := cr.Buffer.Locks(id)
		n = binary.PutUvarint(tmp[:], uint64(len(locks)))
		buf = append(buf, tmp[:n]...)
		for key, lock := range locks {
			n = binary.PutUvarint(tmp[:], uint64(len(key)))
			buf = append(buf, tmp[:n]...)
			buf = append(buf, key...)
			buf = append(buf, byte(lock))
		}
	}
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// decodeCommitRecord is the inverse of encodeCommitRecord.
func decodeCommitRecord(payload []byte) (*CommitRecord, error) {
	r := &byteReader{b: payload}

	seqBytes, err := r.take(seqnum.SerialisedLen)
	if err != nil {
		return nil, fmt.Errorf("wal: decode commit record: open sequence number: %w", err)
	}
	cr := &CommitRecord{
		OpenSequenceNumber: seqnum.FromBigEndian(seqBytes),
		Buffer:             buffer.New(),
	}
	ct, err := r.byte()
	if err != nil {
		return nil, fmt.Errorf("wal: decode commit record: commit type: %w", err)
	}
	cr.CommitType = CommitType(ct)

	numKeyspaces, err := r.uvarint()
	if err != nil {
		return nil, fmt.Errorf("wal: decode commit record: num keyspaces: %w", err)
	}
	for i := uint64(0); i < numKeyspaces; i++ {
		idByte, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("wal: decode commit record: keyspace id: %w", err)
		}
		id := keyspace.ID(idByte)

		numWrites, err := r.uvarint()
		if err != nil {
			return nil, fmt.Errorf("wal: decode commit record: num writes: %w", err)
		}
		for j := uint64(0); j < numWrites; j++ {
			keyLen, err := r.uvarint()
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: key len: %w", err)
			}
			key, err := r.take(int(keyLen))
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: key: %w", err)
			}
			kindByte, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: write kind: %w", err)
			}
			reinsertByte, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: reinsert flag: %w", err)
			}
			knownByte, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: known-to-exist flag: %w", err)
			}
			valLen, err := r.uvarint()
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: value len: %w", err)
			}
			value, err := r.take(int(valLen))
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: value: %w", err)
			}

			keyCopy := append([]byte(nil), key...)
			valCopy := append([]byte(nil), value...)
			switch buffer.Kind(kindByte) {
			case buffer.KindInsert:
				cr.Buffer.Insert(id, keyCopy, valCopy)
			case buffer.KindDelete:
				cr.Buffer.Delete(id, keyCopy)
			case buffer.KindPut:
				cr.Buffer.Put(id, keyCopy, valCopy, knownByte != 0)
				if w, ok := cr.Buffer.Get(id, keyCopy); ok {
					w.Reinsert.Store(reinsertByte != 0)
				}
			default:
				return nil, fmt.Errorf("wal: decode commit record: unknown write kind %d", kindByte)
			}
		}

		numLocks, err := r.uvarint()
		if err != nil {
			return nil, fmt.Errorf("wal: decode commit record: num locks: %w", err)
		}
		for j := uint64(0); j < numLocks; j++ {
			keyLen, err := r.uvarint()
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: lock key len: %w", err)
			}
			key, err := r.take(int(keyLen))
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: lock key: %w", err)
			}
			lockByte, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("wal: decode commit record: lock kind: %w", err)
			}
			cr.Buffer.LockKey(id, append([]byte(nil), key...), buffer.Lock(lockByte))
		}
	}
	if !r.atEnd() {
		return nil, fmt.Errorf("wal: decode commit record: %d trailing bytes", r.remaining())
	}
	return cr, nil
}

func encodeStatusRecord(sr *StatusRecord) []byte {
	buf := make([]byte, seqnum.SerialisedLen+1)
	sr.CommitSequenceNumber.PutBigEndian(buf)
	buf[seqnum.SerialisedLen] = boolByte(sr.WasCommitted)
	return buf
}

func decodeStatusRecord(payload []byte) (*StatusRecord, error) {
	if len(payload) != seqnum.SerialisedLen+1 {
		return nil, fmt.Errorf("wal: decode status record: want %d bytes, got %d", seqnum.SerialisedLen+1, len(payload))
	}
	return &StatusRecord{
		CommitSequenceNumber: seqnum.FromBigEndian(payload[:seqnum.SerialisedLen]),
		WasCommitted:         payload[seqnum.SerialisedLen] != 0,
	}, nil
}

// writeFramed writes a single [seq:8][type:1][varint len][payload] frame to
// w. seq is the WAL-assigned sequence number for a commit record, or 0 for
// a status record (whose referenced sequence number is carried inside its
// payload instead).
func writeFramed(w io.Writer, seq seqnum.Number, recordType RecordType, payload []byte) error {
	var header [seqnum.SerialisedLen + 1 + binary.MaxVarintLen64]byte
	seq.PutBigEndian(header[:seqnum.SerialisedLen])
	header[seqnum.SerialisedLen] = byte(recordType)
	n := binary.PutUvarint(header[seqnum.SerialisedLen+1:], uint64(len(payload)))
	if _, err := w.Write(header[:seqnum.SerialisedLen+1+n]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFramed reads a single frame from r, or returns io.EOF at a clean
// segment boundary.
func readFramed(r *bufio.Reader) (seqnum.Number, RecordType, []byte, error) {
	seqBytes := make([]byte, seqnum.SerialisedLen)
	if _, err := io.ReadFull(r, seqBytes); err != nil {
		return 0, 0, nil, err
	}
	seq := seqnum.FromBigEndian(seqBytes)
	typeByte, err := r.ReadByte()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("wal: read frame type: %w", err)
	}
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("wal: read frame length: %w", err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, 0, nil, fmt.Errorf("wal: read frame payload: %w", err)
	}
	return seq, RecordType(typeByte), payload, nil
}

// byteReader is a tiny cursor over a decode buffer; used instead of
// bytes.Reader so uvarint errors carry wal-specific context.
type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.b) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("invalid varint")
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) atEnd() bool { return r.pos == len(r.b) }
func (r *byteReader) remaining() int { return len(r.b) - r.pos }
