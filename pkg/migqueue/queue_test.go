package migqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numamon/numamon/pkg/guest"
	"github.com/numamon/numamon/pkg/hostiface"
	"github.com/numamon/numamon/pkg/pagemove"
)

type fakeDomain struct{ id uint64 }

func (d fakeDomain) ID() uint64       { return d.id }
func (d fakeDomain) IsHVM() bool      { return true }
func (d fakeDomain) Privileged() bool { return false }

func TestFillDedupsAndDropsOnOverflow(t *testing.T) {
	q := New(2, DefaultMaxTries)
	d := fakeDomain{id: 1}

	enq, drop := q.Fill(d, []Proposal{{MFN: 10, Target: 1}, {MFN: 10, Target: 1}, {MFN: 11, Target: 1}, {MFN: 12, Target: 1}})
	assert.Equal(t, 2, enq)
	assert.Equal(t, 1, drop)
	assert.Equal(t, 2, q.Len())
}

func TestProbeBindingPublishesOnce(t *testing.T) {
	q := New(4, DefaultMaxTries)
	d := fakeDomain{id: 1}
	q.Fill(d, []Proposal{{MFN: 10, Target: 1}})

	calls := 0
	translate := func(guest.Domain, uintptr) (guest.GFN, bool) {
		calls++
		return guest.GFN(500 + calls), true
	}

	q.ProbeBinding(d, 10, 0xdead, translate)
	q.ProbeBinding(d, 10, 0xbeef, translate) // should be a no-op, already bound
	assert.Equal(t, 1, calls)
}

func TestDrainRecognizesAlreadyHome(t *testing.T) {
	q := New(4, DefaultMaxTries)
	d := fakeDomain{id: 1}
	q.Fill(d, []Proposal{{MFN: 10, Target: 1}})

	alloc := hostiface.NewSimulatedAllocator(1000)
	alloc.SetNode(10, 1) // already on target

	var moved []guest.MFN
	res := q.Drain(nil, alloc, func(mfn guest.MFN) { moved = append(moved, mfn) })

	assert.Equal(t, 1, res.Moved)
	assert.Equal(t, []guest.MFN{10}, moved)
	assert.Equal(t, 0, q.Len())
}

func TestDrainAbortsUnboundPageAfterMaxTries(t *testing.T) {
	q := New(4, 2)
	d := fakeDomain{id: 1}
	q.Fill(d, []Proposal{{MFN: 10, Target: 1}})

	alloc := hostiface.NewSimulatedAllocator(1000)
	alloc.SetNode(10, 0) // not on target, and never gets a gfn binding

	noMove := func(guest.MFN) {}
	res := q.Drain(nil, alloc, noMove)
	assert.Equal(t, 1, res.Pending)

	res = q.Drain(nil, alloc, noMove)
	assert.Equal(t, 1, res.Aborted)
	assert.Equal(t, 0, q.Len())
}

func TestDrainFreesSlotAndNotifiesOnFailedMove(t *testing.T) {
	q := New(4, DefaultMaxTries)
	d := fakeDomain{id: 1}
	q.Fill(d, []Proposal{{MFN: 10, Target: 1}})

	translate := func(guest.Domain, uintptr) (guest.GFN, bool) { return 7, true }
	q.ProbeBinding(d, 10, 0x1000, translate)

	alloc := hostiface.NewSimulatedAllocator(1000)
	alloc.SetNode(10, 0)
	physmap := hostiface.NewSimulatedPhysmap()
	physmap.Seed(7, 10, true) // shared: Steal refuses it
	copier := hostiface.NewSimulatedMemoryCopier()
	mover := pagemove.New(pagemove.NewFaultCell(), physmap, alloc, copier)

	var moved []guest.MFN
	res := q.Drain(mover, alloc, func(mfn guest.MFN) { moved = append(moved, mfn) })

	// A refused move still notifies the hotlist and frees the slot
	// immediately: the spec requires every post-invocation outcome to
	// notify and free, never retry.
	assert.Equal(t, 1, res.Aborted)
	assert.Equal(t, 0, res.Moved)
	assert.Equal(t, 0, res.Pending)
	assert.Equal(t, []guest.MFN{10}, moved)
	assert.Equal(t, 0, q.Len())
}

func TestDrainMovesBoundPage(t *testing.T) {
	q := New(4, DefaultMaxTries)
	d := fakeDomain{id: 1}
	q.Fill(d, []Proposal{{MFN: 10, Target: 1}})

	translate := func(guest.Domain, uintptr) (guest.GFN, bool) { return 7, true }
	q.ProbeBinding(d, 10, 0x1000, translate)

	alloc := hostiface.NewSimulatedAllocator(1000)
	alloc.SetNode(10, 0)
	physmap := hostiface.NewSimulatedPhysmap()
	physmap.Seed(7, 10, false)
	copier := hostiface.NewSimulatedMemoryCopier()
	mover := pagemove.New(pagemove.NewFaultCell(), physmap, alloc, copier)

	var moved []guest.MFN
	res := q.Drain(mover, alloc, func(mfn guest.MFN) { moved = append(moved, mfn) })

	require.Equal(t, 1, res.Moved)
	assert.Equal(t, []guest.MFN{10}, moved)
}
