// Package engine implements the migration engine singleton described in
// the monitor: it owns the hotlist (access accounting + per-node
// counters) and the scoring/criteria parameters, and turns a decision
// round into a migration buffer. It mirrors the alloc/init/param/free
// lifecycle of monitor.c's migration_engine functions.
package engine

import (
	"github.com/pkg/errors"

	"github.com/numamon/numamon/pkg/guest"
	"github.com/numamon/numamon/pkg/hotlist"
)

// ErrResourceExhausted is returned by Alloc when backing storage for the
// hotlist cannot be allocated. In this Go port the only way Alloc fails is
// a non-positive capacity; a real allocator failure would surface the
// same way a production build wires its own page allocator in.
var ErrResourceExhausted = errors.New("engine: resource exhausted")

// Engine owns the hotlist and scoring parameters for one monitor
// instance. It is not safe for concurrent Alloc/Init/Free calls; those
// are only ever invoked from the monitor's lifecycle under the decider's
// full token ownership.
type Engine struct {
	hl     *hotlist.Hotlist
	shadow hotlist.Params // mirrors what was last pushed into hl, param setters only
}

// New returns an unallocated engine; call Alloc before use.
func New() *Engine {
	return &Engine{}
}

// Alloc allocates backing storage for the tracked and candidate tiers.
func (e *Engine) Alloc(tracked, candidate int) error {
	if tracked <= 0 || candidate <= 0 {
		return errors.Wrap(ErrResourceExhausted, "tracked and candidate capacities must be positive")
	}
	e.hl = hotlist.New(tracked, candidate)
	return nil
}

// Init resets all slots to empty.
func (e *Engine) Init() {
	if e.hl != nil {
		e.hl.Reset()
	}
}

// Free releases backing storage.
func (e *Engine) Free() {
	e.hl = nil
}

// ParamLists updates the scoring parameters. enter must not exceed
// maximum.
func (e *Engine) ParamLists(enter, increment, decrement, maximum uint32) error {
	if enter > maximum {
		return errors.Errorf("engine: enter (%d) must be <= maximum (%d)", enter, maximum)
	}
	p := e.currentParams()
	p.Enter, p.Increment, p.Decrement, p.Maximum = enter, increment, decrement, maximum
	e.hl.SetParams(p)
	e.shadow = p
	return nil
}

// ParamEngine updates the refill criteria. This is the canonical
// signature resolved from the ambiguity flagged in the original source
// (where two call sites passed min_node_score and min_node_rate in
// different orders): score first, rate second, matching the function's
// own declared parameter names.
func (e *Engine) ParamEngine(minNodeScore, minNodeRate uint32, flushAfterRefill bool) {
	p := e.currentParams()
	p.MinNodeScore, p.MinNodeRate, p.Flush = minNodeScore, minNodeRate, flushAfterRefill
	e.hl.SetParams(p)
	e.shadow = p
}

func (e *Engine) currentParams() hotlist.Params {
	// hotlist has no getter by design (params are read only from the hot
	// path); the engine is the only writer, so it is safe to keep its
	// own shadow copy instead of threading one through every setter.
	return e.shadow
}

// RegisterAccess is the hot path, called from sampler (NMI) context. It
// allocates nothing; the only lock it can wait on is the hotlist's
// params read lock (see hotlist.RegisterAccess).
func (e *Engine) RegisterAccess(mfn guest.MFN, node guest.NodeID) {
	e.hl.RegisterAccess(mfn, node)
}

// RegisterPageMoved removes mfn from the hotlist.
func (e *Engine) RegisterPageMoved(mfn guest.MFN) {
	e.hl.RegisterPageMoved(mfn)
}

// RefillMigrationBuffer scans the candidate tier and returns the ordered
// list of migration proposals for this decision round.
func (e *Engine) RefillMigrationBuffer(nodeOf hotlist.NodeOfFunc) []hotlist.Proposal {
	return e.hl.RefillMigrationBuffer(nodeOf)
}

// Decay ages every hotlist entry by one decision tick.
func (e *Engine) Decay() {
	e.hl.Decay()
}

// TierCounts reports current tracked/candidate occupancy, for metrics.
func (e *Engine) TierCounts() (tracked, candidate int) {
	if e.hl == nil {
		return 0, 0
	}
	return e.hl.Counts()
}
