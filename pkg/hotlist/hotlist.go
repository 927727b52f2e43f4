// Package hotlist implements the bounded, NMI-safe access-frequency
// scoring structure described as the "hotlist" in the monitor: a tracked
// tier of recently-seen machine frames and a candidate tier carrying a
// per-node access vector for frames that look worth migrating.
//
// RegisterAccess is the only entry point called from sampler (NMI)
// context. It never allocates: every slot is a fixed array cell updated
// through compare-and-swap. It is not wait-free: it reads the scoring
// parameters under a read lock, so it waits while SetParams holds the
// write lock.
package hotlist

import (
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/numamon/numamon/pkg/guest"
)

// Params are the scoring parameters from monitor.c's param_migration_lists
// and param_migration_engine. They can be changed live while monitoring
// runs; RegisterAccess always reads the latest snapshot.
type Params struct {
	Enter     uint32
	Increment uint32
	Decrement uint32
	Maximum   uint32

	// Promote is the score at which a tracked entry becomes a migration
	// candidate. It defaults to Maximum (the original behavior) but can
	// be set lower to promote earlier.
	Promote uint32

	MinNodeScore uint32 // absolute best-node sample count required
	MinNodeRate  uint32 // best-node share of total samples, percent
	Flush        bool   // zero candidate state after every refill
}

// Proposal is one entry of a migration buffer: a candidate page and the
// node it should move to.
type Proposal struct {
	MFN    guest.MFN
	Target guest.NodeID
}

type trackedSlot struct {
	_     [0]byte
	mfn   atomix.Uint64
	score atomix.Uint32
	seq   atomix.Uint64
}

type candidateSlot struct {
	_     [0]byte
	mfn   atomix.Uint64
	score atomix.Uint32
	nodes [guest.MaxNodes]atomix.Uint32
	seq   atomix.Uint64
}

// Hotlist is the tiered scoring table. The zero value is not usable; call
// New.
type Hotlist struct {
	tracked   []trackedSlot
	candidate []candidateSlot
	seq       atomix.Uint64

	mu     sync.RWMutex // guards params only; RegisterAccess takes it for reading via loadParams
	params Params
}

// New allocates a hotlist with fixed tracked/candidate capacities. This is
// the only place the structure allocates; it happens at monitoring start,
// never from RegisterAccess.
func New(trackedCap, candidateCap int) *Hotlist {
	h := &Hotlist{
		tracked:   make([]trackedSlot, trackedCap),
		candidate: make([]candidateSlot, candidateCap),
	}
	h.Reset()
	return h
}

// Reset empties every slot. Called by the engine's Init().
func (h *Hotlist) Reset() {
	for i := range h.tracked {
		h.tracked[i].mfn.StoreRelease(uint64(guest.InvalidMFN))
		h.tracked[i].score.StoreRelease(0)
		h.tracked[i].seq.StoreRelease(0)
	}
	for i := range h.candidate {
		h.candidate[i].mfn.StoreRelease(uint64(guest.InvalidMFN))
		h.candidate[i].score.StoreRelease(0)
		h.candidate[i].seq.StoreRelease(0)
		for n := range h.candidate[i].nodes {
			h.candidate[i].nodes[n].StoreRelease(0)
		}
	}
}

// SetParams atomically swaps the scoring parameters. Called from the
// control surface (set_scores/set_criteria), never from NMI context.
func (h *Hotlist) SetParams(p Params) {
	if p.Promote == 0 {
		p.Promote = p.Maximum
	}
	h.mu.Lock()
	h.params = p
	h.mu.Unlock()
}

func (h *Hotlist) loadParams() Params {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.params
}

func clampAdd(cur, delta, max uint32) uint32 {
	v := cur + delta
	if v > max || v < cur /* overflow */ {
		return max
	}
	return v
}

func clampSub(cur, delta uint32) uint32 {
	if delta >= cur {
		return 0
	}
	return cur - delta
}

// RegisterAccess accounts one sample of mfn observed on a CPU local to
// node. It allocates nothing and updates slots only through
// compare-and-swap, so concurrent samplers on other CPUs never wait on
// each other; it does take the params read lock, and so waits while a
// SetParams call holds the write lock. It is the only hotlist method
// called from NMI/sampler context.
func (h *Hotlist) RegisterAccess(mfn guest.MFN, node guest.NodeID) {
	p := h.loadParams()

	if idx, ok := h.findCandidate(mfn); ok {
		h.bumpCandidate(idx, mfn, node, p)
		return
	}

	if idx, ok := h.findTracked(mfn); ok {
		h.bumpTracked(idx, mfn, node, p)
		return
	}

	h.insertTracked(mfn, p)
}

func (h *Hotlist) findTracked(mfn guest.MFN) (int, bool) {
	want := uint64(mfn)
	for i := range h.tracked {
		if h.tracked[i].mfn.LoadAcquire() == want {
			return i, true
		}
	}
	return -1, false
}

func (h *Hotlist) findCandidate(mfn guest.MFN) (int, bool) {
	want := uint64(mfn)
	for i := range h.candidate {
		if h.candidate[i].mfn.LoadAcquire() == want {
			return i, true
		}
	}
	return -1, false
}

func (h *Hotlist) bumpCandidate(idx int, mfn guest.MFN, node guest.NodeID, p Params) {
	s := &h.candidate[idx]
	if s.mfn.LoadAcquire() != uint64(mfn) {
		return // entry got recycled under us; drop this sample, best effort
	}
	for {
		cur := s.score.LoadAcquire()
		next := clampAdd(cur, p.Increment, p.Maximum)
		if s.score.CompareAndSwapAcqRel(cur, next) {
			break
		}
	}
	if int(node) >= 0 && int(node) < guest.MaxNodes {
		s.nodes[node].AddAcqRel(1)
	}
}

func (h *Hotlist) bumpTracked(idx int, mfn guest.MFN, node guest.NodeID, p Params) {
	s := &h.tracked[idx]
	var newScore uint32
	for {
		cur := s.score.LoadAcquire()
		if s.mfn.LoadAcquire() != uint64(mfn) {
			return // recycled under us
		}
		newScore = clampAdd(cur, p.Increment, p.Maximum)
		if s.score.CompareAndSwapAcqRel(cur, newScore) {
			break
		}
	}
	if newScore >= p.Promote {
		h.tryPromote(idx, mfn, newScore, node)
	}
}

// tryPromote moves a tracked entry into the candidate tier. It only
// happens if the candidate tier has room or holds a lower-scored entry;
// otherwise the tracked entry simply stays tracked at its new score (it
// may be proposed again on a later sample once room frees up).
func (h *Hotlist) tryPromote(trackedIdx int, mfn guest.MFN, score uint32, node guest.NodeID) {
	slot, victimScore, haveVictim := -1, uint32(0), false
	for i := range h.candidate {
		if h.candidate[i].mfn.LoadAcquire() == uint64(guest.InvalidMFN) {
			slot = i
			haveVictim = false
			break
		}
		s := h.candidate[i].score.LoadAcquire()
		if !haveVictim || s < victimScore {
			slot, victimScore, haveVictim = i, s, true
		}
	}
	if slot < 0 {
		return // no candidate slots at all (candidate cap == 0)
	}
	if haveVictim && victimScore >= score {
		return // no room and nothing worse to evict
	}

	c := &h.candidate[slot]
	var expect uint64 = uint64(guest.InvalidMFN)
	if haveVictim {
		expect = c.mfn.LoadAcquire()
	}
	if !c.mfn.CompareAndSwapAcqRel(expect, uint64(mfn)) {
		return // lost the race to another sampler; try again next sample
	}

	c.score.StoreRelease(score)
	c.seq.StoreRelease(h.seq.AddAcqRel(1))
	for n := range c.nodes {
		c.nodes[n].StoreRelease(0)
	}
	// The access that triggered promotion is itself on node: count it
	// immediately rather than discarding it, so a page doesn't need an
	// extra sample past the promotion threshold before its node vector
	// reflects reality. Counted as one access, matching bumpCandidate's
	// per-access weight, not the score increment.
	if int(node) >= 0 && int(node) < guest.MaxNodes {
		c.nodes[node].StoreRelease(1)
	}

	// Clear the tracked slot only if it still holds this mfn.
	h.tracked[trackedIdx].mfn.CompareAndSwapAcqRel(uint64(mfn), uint64(guest.InvalidMFN))
}

func (h *Hotlist) insertTracked(mfn guest.MFN, p Params) {
	seq := h.seq.AddAcqRel(1)

	for i := range h.tracked {
		if h.tracked[i].mfn.CompareAndSwapAcqRel(uint64(guest.InvalidMFN), uint64(mfn)) {
			h.tracked[i].score.StoreRelease(p.Enter)
			h.tracked[i].seq.StoreRelease(seq)
			return
		}
	}

	// Tier is full: evict the lowest-scoring entry (oldest insert breaks
	// ties) and reuse its slot. Best effort: if we lose the race for the
	// chosen victim, the sample is silently dropped; overflow is normal
	// under sustained pressure and never treated as an error.
	victim, victimScore, victimSeq := -1, ^uint32(0), ^uint64(0)
	for i := range h.tracked {
		s := h.tracked[i].score.LoadAcquire()
		sq := h.tracked[i].seq.LoadAcquire()
		if s < victimScore || (s == victimScore && sq < victimSeq) {
			victim, victimScore, victimSeq = i, s, sq
		}
	}
	if victim < 0 {
		return
	}
	old := h.tracked[victim].mfn.LoadAcquire()
	if h.tracked[victim].mfn.CompareAndSwapAcqRel(old, uint64(mfn)) {
		h.tracked[victim].score.StoreRelease(p.Enter)
		h.tracked[victim].seq.StoreRelease(seq)
	}
}

// Decay subtracts Decrement from every tracked and candidate score,
// saturating at zero, and removes entries that reach zero. It can run on
// any cadence the caller chooses; this monitor runs it once per decider
// tick (see monitor.DecideMigration), since the decider already holds
// every CPU's token and so excludes all samplers, which turns an
// otherwise racy sweep into a simple scan.
func (h *Hotlist) Decay() {
	p := h.loadParams()
	for i := range h.tracked {
		s := &h.tracked[i]
		cur := s.score.LoadAcquire()
		if s.mfn.LoadAcquire() == uint64(guest.InvalidMFN) {
			continue
		}
		next := clampSub(cur, p.Decrement)
		s.score.StoreRelease(next)
		if next == 0 {
			s.mfn.StoreRelease(uint64(guest.InvalidMFN))
		}
	}
	for i := range h.candidate {
		s := &h.candidate[i]
		if s.mfn.LoadAcquire() == uint64(guest.InvalidMFN) {
			continue
		}
		cur := s.score.LoadAcquire()
		next := clampSub(cur, p.Decrement)
		s.score.StoreRelease(next)
		if next == 0 {
			s.mfn.StoreRelease(uint64(guest.InvalidMFN))
			for n := range s.nodes {
				s.nodes[n].StoreRelease(0)
			}
		}
	}
}

// RegisterPageMoved removes mfn from every tier so it is not immediately
// re-proposed after a completed (or externally observed) move.
func (h *Hotlist) RegisterPageMoved(mfn guest.MFN) {
	want := uint64(mfn)
	for i := range h.tracked {
		h.tracked[i].mfn.CompareAndSwapAcqRel(want, uint64(guest.InvalidMFN))
	}
	for i := range h.candidate {
		if h.candidate[i].mfn.CompareAndSwapAcqRel(want, uint64(guest.InvalidMFN)) {
			for n := range h.candidate[i].nodes {
				h.candidate[i].nodes[n].StoreRelease(0)
			}
		}
	}
}

// Contains reports which tier, if any, currently holds mfn. Exposed for
// tests and introspection only.
func (h *Hotlist) Contains(mfn guest.MFN) (tracked, candidate bool) {
	_, tracked = h.findTracked(mfn)
	_, candidate = h.findCandidate(mfn)
	return
}

// NodeOfFunc resolves the current home node of a machine frame; supplied
// by the host allocator.
type NodeOfFunc func(guest.MFN) guest.NodeID

// RefillMigrationBuffer scans the candidate tier and emits a Proposal for
// every candidate whose dominant node meets both MinNodeRate and
// MinNodeScore and differs from its current home node.
func (h *Hotlist) RefillMigrationBuffer(nodeOf NodeOfFunc) []Proposal {
	p := h.loadParams()
	buf := make([]Proposal, 0, len(h.candidate))

	for i := range h.candidate {
		s := &h.candidate[i]
		mfn := guest.MFN(s.mfn.LoadAcquire())
		if mfn == guest.InvalidMFN {
			continue
		}

		var total uint64
		best, bestScore := guest.NodeID(0), uint32(0)
		for n := range s.nodes {
			v := s.nodes[n].LoadAcquire()
			total += uint64(v)
			if v > bestScore {
				bestScore, best = v, guest.NodeID(n)
			}
		}
		if total == 0 {
			continue
		}
		sharePct := uint32((uint64(bestScore) * 100) / total)
		if sharePct < p.MinNodeRate || bestScore < p.MinNodeScore {
			continue
		}

		home := nodeOf(mfn)
		if home == best {
			continue
		}
		buf = append(buf, Proposal{MFN: mfn, Target: best})
	}

	if p.Flush {
		for i := range h.candidate {
			h.candidate[i].mfn.StoreRelease(uint64(guest.InvalidMFN))
			h.candidate[i].score.StoreRelease(0)
			for n := range h.candidate[i].nodes {
				h.candidate[i].nodes[n].StoreRelease(0)
			}
		}
	}

	return buf
}

// Counts returns the current occupancy of each tier, for metrics.
func (h *Hotlist) Counts() (tracked, candidate int) {
	for i := range h.tracked {
		if h.tracked[i].mfn.LoadAcquire() != uint64(guest.InvalidMFN) {
			tracked++
		}
	}
	for i := range h.candidate {
		if h.candidate[i].mfn.LoadAcquire() != uint64(guest.InvalidMFN) {
			candidate++
		}
	}
	return
}
