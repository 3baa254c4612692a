package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/vertexdb/pkg/seqnum"
)

// segmentSuffix names every WAL segment file on disk. Segment file stems
// are random v4 UUIDs (github.com/google/uuid) rather than sequence
// numbers, so a segment can be pre-allocated before the first sequence
// number it will hold is known, matching the teacher's use of uuid for
// naming content it can't name deterministically up front.
const segmentSuffix = ".wal"

// Record is a decoded entry read back from the log, tagged with its kind.
type Record struct {
	Sequence seqnum.Number // only meaningful when Commit != nil
	Commit   *CommitRecord
	Status   *StatusRecord
}

// Log is an append-only, fsync-durable sequence of commit and status
// records, split across segment files in a directory.
type Log struct {
	dir string

	mu          sync.Mutex
	activeFile  *os.File
	activeName  string
	bytesInSeg  int64
	segmentCap  int64
	nextSeq     atomic.Uint64
	logger      zerolog.Logger
}

// Options configures a Log.
type Options struct {
	// SegmentCapBytes rotates to a new segment once the active one grows
	// past this size. Zero selects a 64MiB default.
	SegmentCapBytes int64
}

// Open opens (creating if necessary) a WAL directory, replaying any
// existing segments purely to recover the next sequence number to assign
// — full record replay for storage recovery is driven by Iterate, called
// separately by pkg/mvcc.
func Open(dir string, opts Options, logger zerolog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	cap := opts.SegmentCapBytes
	if cap <= 0 {
		cap = 64 << 20
	}
	l := &Log{dir: dir, segmentCap: cap, logger: logger}

	highest, err := l.highestSequenceOnDisk()
	if err != nil {
		return nil, err
	}
	l.nextSeq.Store(uint64(highest) + 1)

	if err := l.rotate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) segmentPaths() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("wal: list segments: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == segmentSuffix {
			paths = append(paths, filepath.Join(l.dir, e.Name()))
		}
	}
	sort.Strings(paths) // UUID names carry no order; Iterate sorts by sequence, not filename.
	return paths, nil
}

func (l *Log) highestSequenceOnDisk() (seqnum.Number, error) {
	var highest seqnum.Number
	err := l.Iterate(seqnum.Min, func(rec Record) (bool, error) {
		if rec.Commit != nil && rec.Sequence > highest {
			highest = rec.Sequence
		}
		return true, nil
	})
	return highest, err
}

func (l *Log) rotate() error {
	name := filepath.Join(l.dir, uuid.NewString()+segmentSuffix)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("wal: create segment: %w", err)
	}
	if l.activeFile != nil {
		_ = l.activeFile.Close()
	}
	l.activeFile = f
	l.activeName = name
	l.bytesInSeg = 0
	l.logger.Debug().Str("segment", name).Msg("wal: rotated to new segment")
	return nil
}

// AppendCommit assigns the next sequence number and durably appends cr,
// fsyncing before returning so the caller can rely on its presence
// surviving a crash.
func (l *Log) AppendCommit(cr *CommitRecord) (seqnum.Number, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := seqnum.Number(l.nextSeq.Add(1) - 1)
	payload := encodeCommitRecord(cr)
	if debugSelfCheck {
		if err := selfCheckCommitRecord(cr, payload); err != nil {
			return 0, fmt.Errorf("wal: commit record self-check failed: %w", err)
		}
	}
	if err := l.appendLocked(seq, RecordTypeCommit, payload); err != nil {
		return 0, err
	}
	return seq, nil
}

// AppendStatus durably appends sr. It carries no WAL-assigned sequence
// number of its own; the frame's sequence field is left at zero.
func (l *Log) AppendStatus(sr *StatusRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	payload := encodeStatusRecord(sr)
	return l.appendLocked(seqnum.Min, RecordTypeStatus, payload)
}

func (l *Log) appendLocked(seq seqnum.Number, recordType RecordType, payload []byte) error {
	if err := writeFramed(l.activeFile, seq, recordType, payload); err != nil {
		return fmt.Errorf("wal: write frame: %w", err)
	}
	if err := l.activeFile.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	l.bytesInSeg += int64(len(payload)) + seqnum.SerialisedLen + 1 + 10
	if l.bytesInSeg >= l.segmentCap {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	return nil
}

// Iterate calls fn for every record across every segment, in segment
// creation order, starting from (and including) from. fn returning false
// or an error stops iteration early.
func (l *Log) Iterate(from seqnum.Number, fn func(Record) (bool, error)) error {
	paths, err := l.segmentPaths()
	if err != nil {
		return err
	}
	for _, path := range paths {
		cont, err := l.iterateSegment(path, from, fn)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (l *Log) iterateSegment(path string, from seqnum.Number, fn func(Record) (bool, error)) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		seq, recordType, payload, err := readFramed(r)
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				// A torn trailing frame from a crash mid-append; treat the
				// segment as ending at the last complete frame.
				l.logger.Warn().Str("segment", path).Msg("wal: truncated trailing record, stopping replay of segment")
				return true, nil
			}
			return false, fmt.Errorf("wal: read segment %s: %w", path, err)
		}

		switch recordType {
		case RecordTypeCommit:
			if seq < from {
				continue
			}
			cr, err := decodeCommitRecord(payload)
			if err != nil {
				return false, fmt.Errorf("wal: decode commit record at seq %d: %w", seq, err)
			}
			cont, err := fn(Record{Sequence: seq, Commit: cr})
			if err != nil || !cont {
				return false, err
			}
		case RecordTypeStatus:
			sr, err := decodeStatusRecord(payload)
			if err != nil {
				return false, fmt.Errorf("wal: decode status record: %w", err)
			}
			if sr.CommitSequenceNumber < from {
				continue
			}
			cont, err := fn(Record{Status: sr})
			if err != nil || !cont {
				return false, err
			}
		default:
			return false, fmt.Errorf("wal: unknown record type %d in segment %s", recordType, path)
		}
	}
}

// NextSequenceNumber returns the sequence number AppendCommit will assign
// to the next commit record.
func (l *Log) NextSequenceNumber() seqnum.Number {
	return seqnum.Number(l.nextSeq.Load())
}

// Close flushes and closes the active segment file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.activeFile == nil {
		return nil
	}
	return l.activeFile.Close()
}
