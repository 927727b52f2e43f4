// Package migqueue implements the migration queue: the bounded buffer
// between a decision round's proposals and the page-move protocol. Fill
// is called once per decider tick with a fresh batch of proposals;
// ProbeBinding is called from sampler (NMI) context to opportunistically
// resolve a queued page's guest frame number off the back of an unrelated
// sample; Drain is called by the decider to walk the queue and either
// recognize a page has already reached its home node or hand it to the
// mover.
package migqueue

import (
	"code.hybscloud.com/atomix"

	"github.com/numamon/numamon/pkg/guest"
	"github.com/numamon/numamon/pkg/hostiface"
	"github.com/numamon/numamon/pkg/pagemove"
)

// DefaultMaxTries bounds how many decider ticks a queued page may sit
// with an unresolved binding before it is dropped, so one stuck page
// never blocks the slot it occupies forever.
const DefaultMaxTries = 8

type entry struct {
	used   atomix.Bool
	domain guest.Domain
	mfn    atomix.Uint64
	target guest.NodeID
	gfn    atomix.Uint64 // guest.InvalidGFN until ProbeBinding resolves it
	tries  atomix.Uint32
}

// Result tallies one Drain call's outcomes, for metrics.
type Result struct {
	Moved   int
	Aborted int
	Pending int // still queued, no binding or not yet retried enough
}

// Queue is the fixed-capacity migration queue owned by the monitor.
type Queue struct {
	entries  []entry
	maxTries uint32
}

// New allocates a queue with the given capacity.
func New(capacity int, maxTries uint32) *Queue {
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}
	q := &Queue{entries: make([]entry, capacity), maxTries: maxTries}
	q.Reset()
	return q
}

// Reset empties every slot.
func (q *Queue) Reset() {
	for i := range q.entries {
		q.clear(i)
	}
}

func (q *Queue) clear(i int) {
	e := &q.entries[i]
	e.used.StoreRelease(false)
	e.domain = nil
	e.mfn.StoreRelease(uint64(guest.InvalidMFN))
	e.gfn.StoreRelease(uint64(guest.InvalidGFN))
	e.tries.StoreRelease(0)
}

// Fill enqueues proposals for domain d, skipping any mfn already queued
// and dropping proposals past capacity. It returns the number enqueued
// and the number dropped for lack of room.
func (q *Queue) Fill(d guest.Domain, proposals []Proposal) (enqueued, dropped int) {
	for _, p := range proposals {
		if q.contains(p.MFN) {
			continue
		}
		slot := q.firstFree()
		if slot < 0 {
			dropped++
			continue
		}
		e := &q.entries[slot]
		e.domain = d
		e.mfn.StoreRelease(uint64(p.MFN))
		e.target = p.Target
		e.gfn.StoreRelease(uint64(guest.InvalidGFN))
		e.tries.StoreRelease(0)
		e.used.StoreRelease(true)
		enqueued++
	}
	return
}

// Proposal is the input shape Fill accepts. Defined locally rather than
// depending on hotlist so the queue stays usable with any scorer that can
// produce (mfn, target) pairs.
type Proposal struct {
	MFN    guest.MFN
	Target guest.NodeID
}

func (q *Queue) contains(mfn guest.MFN) bool {
	want := uint64(mfn)
	for i := range q.entries {
		if q.entries[i].used.LoadAcquire() && q.entries[i].mfn.LoadAcquire() == want {
			return true
		}
	}
	return false
}

func (q *Queue) firstFree() int {
	for i := range q.entries {
		if !q.entries[i].used.LoadAcquire() {
			return i
		}
	}
	return -1
}

// ProbeBinding opportunistically resolves a queued page's guest frame
// number. It is safe to call from sampler (NMI) context: it never
// allocates, and the gfn field publishes exactly once via compare-and-
// swap, so concurrent probes from different CPUs sampling the same mfn
// race harmlessly to the same outcome. translate must itself be safe for
// the calling context (the monitor only calls this from a path where
// faulting translation is already permitted; see sampler intake).
func (q *Queue) ProbeBinding(d guest.Domain, mfn guest.MFN, vaddr uintptr, translate hostiface.TranslateFunc) {
	want := uint64(mfn)
	for i := range q.entries {
		e := &q.entries[i]
		if !e.used.LoadAcquire() || e.mfn.LoadAcquire() != want || e.domain != d {
			continue
		}
		if e.gfn.LoadAcquire() != uint64(guest.InvalidGFN) {
			return // already bound
		}
		gfn, ok := translate(d, vaddr)
		if !ok {
			return
		}
		e.gfn.CompareAndSwapAcqRel(uint64(guest.InvalidGFN), uint64(gfn))
		return
	}
}

// Drain walks every occupied slot once: pages already at their target
// node are reported moved without invoking the mover; pages still
// unbound have their try counter bumped and are either left queued or
// aborted once the counter reaches maxTries; pages with a resolved binding are
// handed to mover.MovePage, and the slot is freed regardless of the
// outcome — a move attempt is never retried, so a shared or unmappable
// page does not sit in the queue stealing a slot from a page that could
// move. onMoved is called for every mfn this Drain resolves via the
// already-on-target check or a move attempt, successful or not, so the
// caller can feed it back into the hotlist's RegisterPageMoved and stop
// it being re-proposed off a now-stale candidate entry.
func (q *Queue) Drain(mover *pagemove.Mover, nodeOf hostiface.Allocator, onMoved func(guest.MFN)) Result {
	var res Result
	for i := range q.entries {
		e := &q.entries[i]
		if !e.used.LoadAcquire() {
			continue
		}
		mfn := guest.MFN(e.mfn.LoadAcquire())
		target := e.target
		domain := e.domain

		if nodeOf.NodeOf(mfn) == target {
			onMoved(mfn)
			q.clear(i)
			res.Moved++
			continue
		}

		gfn := guest.GFN(e.gfn.LoadAcquire())
		if gfn == guest.InvalidGFN {
			if q.bumpTries(e) {
				q.clear(i)
				res.Aborted++
			} else {
				res.Pending++
			}
			continue
		}

		// Regardless of outcome, the move attempt resolves this slot: the
		// hotlist is notified so a shared or unmappable page is not
		// re-proposed next round off a stale candidate entry, and the slot
		// is freed rather than retried. Only an unresolved binding (above)
		// uses the tries counter.
		err := mover.MovePage(domain, gfn, target)
		onMoved(mfn)
		q.clear(i)
		if err == nil || err == pagemove.ErrAlreadyOnTarget {
			res.Moved++
		} else {
			res.Aborted++
		}
	}
	return res
}

func (q *Queue) bumpTries(e *entry) (exhausted bool) {
	n := e.tries.AddAcqRel(1)
	return n >= q.maxTries
}

// Len reports current occupancy, for metrics.
func (q *Queue) Len() int {
	n := 0
	for i := range q.entries {
		if q.entries[i].used.LoadAcquire() {
			n++
		}
	}
	return n
}
