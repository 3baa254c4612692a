package isolation

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/vertexdb/pkg/seqnum"
	"github.com/cuemby/vertexdb/pkg/wal"
)

// DefaultWindowSize is the default number of sequence-number slots per window. Grounded
// on isolation_manager.rs::TimelineWindow<SIZE>; configurable here via
// pkg/config's TimelineWindowSize rather than a const generic, since Go
// has no const generics.
const DefaultWindowSize = 1000

// Window holds size consecutive sequence numbers' slots: each
// slot's status is updated with atomic stores/CAS so readers never need
// to take a lock to observe it.
type Window struct {
	start seqnum.Number // sequence number of slot 0
	size  uint64

	mu      sync.RWMutex // guards records only; status is atomic
	status  []atomic.Uint32
	records []*wal.CommitRecord

	readers atomic.Int64
}

func newWindow(start seqnum.Number, size uint64) *Window {
	return &Window{
		start:   start,
		size:    size,
		status:  make([]atomic.Uint32, size),
		records: make([]*wal.CommitRecord, size),
	}
}

func (w *Window) index(seq seqnum.Number) (int, bool) {
	if seq < w.start {
		return 0, false
	}
	idx := uint64(seq - w.start)
	if idx >= w.size {
		return 0, false
	}
	return int(idx), true
}

// Status returns the current status of seq's slot, or SlotEmpty if seq
// falls outside this window.
func (w *Window) Status(seq seqnum.Number) SlotStatus {
	idx, ok := w.index(seq)
	if !ok {
		return SlotEmpty
	}
	return SlotStatus(w.status[idx].Load())
}

// CommitRecord returns the commit record stored at seq's slot, if any.
func (w *Window) CommitRecord(seq seqnum.Number) (*wal.CommitRecord, bool) {
	idx, ok := w.index(seq)
	if !ok {
		return nil, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	cr := w.records[idx]
	return cr, cr != nil
}

// InsertPending marks seq Pending and stores its commit record, ahead of
// validation.
func (w *Window) InsertPending(seq seqnum.Number, cr *wal.CommitRecord) {
	idx, ok := w.index(seq)
	if !ok {
		panic("isolation: InsertPending: sequence number outside window")
	}
	w.mu.Lock()
	w.records[idx] = cr
	w.mu.Unlock()
	w.status[idx].Store(uint32(SlotPending))
}

// SetValidated transitions seq's slot from Pending to Validated.
func (w *Window) SetValidated(seq seqnum.Number) {
	idx, _ := w.index(seq)
	w.status[idx].Store(uint32(SlotValidated))
}

// SetApplied transitions seq's slot to Applied, its terminal committed
// state.
func (w *Window) SetApplied(seq seqnum.Number) {
	idx, _ := w.index(seq)
	w.status[idx].Store(uint32(SlotApplied))
}

// SetAborted transitions seq's slot to Aborted, its terminal failed state.
func (w *Window) SetAborted(seq seqnum.Number) {
	idx, _ := w.index(seq)
	w.status[idx].Store(uint32(SlotAborted))
}

// AddReader / RemoveReader pin/unpin this window against eviction while a
// read snapshot's open sequence number falls inside it.
func (w *Window) AddReader()    { w.readers.Add(1) }
func (w *Window) RemoveReader() { w.readers.Add(-1) }
func (w *Window) ReaderCount() int64 { return w.readers.Load() }

// AllResolved reports whether every slot in the window has reached a
// terminal state, the condition for the watermark to pass fully through
// it and for it to become eligible for eviction.
func (w *Window) AllResolved() bool {
	for i := range w.status {
		if !SlotStatus(w.status[i].Load()).IsResolved() {
			return false
		}
	}
	return true
}

// End returns the sequence number one past the last slot in this window.
func (w *Window) End() seqnum.Number { return w.start + seqnum.Number(w.size) }

// Start returns the first sequence number this window covers.
func (w *Window) Start() seqnum.Number { return w.start }
