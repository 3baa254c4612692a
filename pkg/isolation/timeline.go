package isolation

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/vertexdb/pkg/seqnum"
)

// Timeline is an ordered run of Windows covering every sequence number
// from the watermark forward, plus a watermark that advances only through
// a contiguous prefix of fully-resolved slots. Grounded on
// isolation_manager.rs::Timeline (a RwLock<VecDeque<Arc<TimelineWindow>>>
// plus an AtomicU64 watermark).
type Timeline struct {
	windowSize uint64

	mu      sync.RWMutex
	windows []*Window // ascending by Start(); windows[0].Start() <= watermark+1

	watermark atomic.Uint64
}

// NewTimeline creates a Timeline whose first window starts at sequence
// number 1 (sequence 0 is reserved to mean "nothing committed yet").
func NewTimeline(windowSize uint64) *Timeline {
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	t := &Timeline{windowSize: windowSize}
	t.windows = []*Window{newWindow(seqnum.Min.Next(), windowSize)}
	return t
}

// Watermark returns the highest sequence number known to be fully
// resolved (applied or aborted), i.e. the highest sequence number at
// which a new read snapshot may safely open without further validation
// work.
func (t *Timeline) Watermark() seqnum.Number {
	return seqnum.Number(t.watermark.Load())
}

// WindowFor returns the window covering seq, creating windows up to it if
// necessary.
func (t *Timeline) WindowFor(seq seqnum.Number) *Window {
	t.mu.RLock()
	for _, w := range t.windows {
		if seq >= w.Start() && seq < w.End() {
			t.mu.RUnlock()
			return w
		}
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.windows {
		if seq >= w.Start() && seq < w.End() {
			return w
		}
	}
	last := t.windows[len(t.windows)-1]
	for last.End() <= seq {
		next := newWindow(last.End(), t.windowSize)
		t.windows = append(t.windows, next)
		last = next
	}
	return last
}

// ConcurrentWindows returns every window covering a sequence number
// strictly greater than from, i.e. every window that might hold a
// predecessor concurrent with a transaction opened at sequence from.
func (t *Timeline) ConcurrentWindows(from seqnum.Number) []*Window {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Window
	for _, w := range t.windows {
		if w.End() > from.Next() {
			out = append(out, w)
		}
	}
	return out
}

// AdvanceWatermark walks forward through fully-resolved slots starting
// just past the current watermark, advancing it as far as a contiguous
// run of Applied/Aborted slots allows; matches
// Timeline::may_increment_watermark's CAS loop, simplified to a single
// mutex since window layout changes are already serialized through t.mu.
func (t *Timeline) AdvanceWatermark() {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := seqnum.Number(t.watermark.Load())
	for {
		w := t.windowContainingLocked(current.Next())
		if w == nil {
			return
		}
		status := w.Status(current.Next())
		if !status.IsResolved() {
			return
		}
		current = current.Next()
		t.watermark.Store(uint64(current))
	}
}

func (t *Timeline) windowContainingLocked(seq seqnum.Number) *Window {
	for _, w := range t.windows {
		if seq >= w.Start() && seq < w.End() {
			return w
		}
	}
	return nil
}

// EvictResolvedWindows drops every window at the front of the timeline
// that is fully resolved and has no pinned readers, matching
// Timeline::may_free_windows. Eviction stops at the first window that is
// unresolved or pinned, so a reader's window and every later one stay in
// memory. An evicted window's slots are gone from the timeline: WindowFor
// does not recreate them, and a sequence number below the first window
// reads as SlotEmpty.
func (t *Timeline) EvictResolvedWindows() {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := 0
	for i < len(t.windows)-1 { // always keep at least one window
		w := t.windows[i]
		if !w.AllResolved() || w.ReaderCount() > 0 {
			break
		}
		i++
	}
	if i > 0 {
		t.windows = t.windows[i:]
	}
}
