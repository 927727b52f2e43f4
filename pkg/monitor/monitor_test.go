package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numamon/numamon/pkg/guest"
	"github.com/numamon/numamon/pkg/hostiface"
	"github.com/numamon/numamon/pkg/hotlist"
)

type fakeDomain struct{ id uint64 }

func (d fakeDomain) ID() uint64       { return d.id }
func (d fakeDomain) IsHVM() bool      { return true }
func (d fakeDomain) Privileged() bool { return false }

type privilegedDomain struct{ fakeDomain }

func (d privilegedDomain) Privileged() bool { return true }

type harness struct {
	mon     *Monitor
	source  *SimulatedSource
	physmap *hostiface.SimulatedPhysmap
	alloc   *hostiface.SimulatedAllocator
	domain  guest.Domain
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	topo := hostiface.NewSimulatedTopology(2, 2) // 2 nodes, 2 cpus each
	physmap := hostiface.NewSimulatedPhysmap()
	alloc := hostiface.NewSimulatedAllocator(1000)
	copier := hostiface.NewSimulatedMemoryCopier()
	domain := fakeDomain{id: 1}

	translate := func(d guest.Domain, vaddr uintptr) (guest.GFN, bool) {
		return guest.GFN(vaddr >> PageShift), true
	}

	deps := Deps{Allocator: alloc, Physmap: physmap, Topology: topo, Copier: copier, Translate: translate}
	mon := New(domain, deps)
	source := NewSimulatedSource()

	caps := Capacities{Tracked: 4, Candidate: 4, Enqueued: 4, MaxTries: 3}
	scoring := hotlist.Params{Enter: 10, Increment: 10, Decrement: 4, Maximum: 100, Promote: 10, MinNodeScore: 8, MinNodeRate: 75}
	require.NoError(t, mon.StartMonitoring(caps, scoring, source))

	return &harness{mon: mon, source: source, physmap: physmap, alloc: alloc, domain: domain}
}

func TestStartMonitoringRejectsDoubleStart(t *testing.T) {
	h := newHarness(t)
	err := h.mon.StartMonitoring(Capacities{Tracked: 1, Candidate: 1, Enqueued: 1}, hotlist.Params{Maximum: 1}, NewSimulatedSource())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartMonitoringRefusesWithNoSource(t *testing.T) {
	mon := New(fakeDomain{id: 1}, Deps{
		Allocator: hostiface.NewSimulatedAllocator(1),
		Physmap:   hostiface.NewSimulatedPhysmap(),
		Topology:  hostiface.NewSimulatedTopology(1, 1),
		Copier:    hostiface.NewSimulatedMemoryCopier(),
	})
	err := mon.StartMonitoring(Capacities{Tracked: 1, Candidate: 1, Enqueued: 1}, hotlist.Params{Maximum: 1}, IBSSource, PEBSSource)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestIntakeIgnoresNonDataAndPrivilegedSamples(t *testing.T) {
	h := newHarness(t)
	h.source.Emit(SampleRecord{Domain: h.domain, CPU: 0, PhysAddr: 0x1000, DataMemOp: false})
	h.source.Emit(SampleRecord{Domain: privilegedDomain{fakeDomain{id: 2}}, CPU: 0, PhysAddr: 0x1000, DataMemOp: true})

	tracked, candidate := h.mon.TierCounts()
	assert.Zero(t, tracked)
	assert.Zero(t, candidate)
	assert.Zero(t, h.mon.Stats().SamplesAccounted)
}

func TestEndToEndSampleToMove(t *testing.T) {
	h := newHarness(t)

	const mfn = guest.MFN(42)
	h.alloc.SetNode(mfn, 0)
	h.physmap.Seed(7, mfn, false)

	// 10 samples on node-1 CPUs (indices 2,3) drive the page to candidate
	// and make node 1 its dominant node.
	for i := 0; i < 10; i++ {
		h.source.Emit(SampleRecord{Domain: h.domain, CPU: 2, VAddr: uintptr(7 << PageShift), PhysAddr: uint64(mfn) << PageShift, DataMemOp: true})
	}
	_, candidate := h.mon.TierCounts()
	assert.Equal(t, 1, candidate)

	res := h.mon.DecideMigration()
	assert.Equal(t, 0, res.Pending+res.Moved+res.Aborted) // nothing queued yet this round; queue fills from this round's buffer

	// One more sample now that the page is queued: the intake probe
	// resolves its guest-frame binding off the back of this access.
	h.source.Emit(SampleRecord{Domain: h.domain, CPU: 2, VAddr: uintptr(7 << PageShift), PhysAddr: uint64(mfn) << PageShift, DataMemOp: true})

	res = h.mon.DecideMigration()
	assert.Equal(t, 1, res.Moved)

	newMFN, ok := h.physmap.GFNToMFN(h.domain, 7)
	require.True(t, ok)
	assert.NotEqual(t, mfn, newMFN)
	assert.Equal(t, guest.NodeID(1), h.alloc.NodeOf(newMFN))
}

func TestStopMonitoringReturnsStatsAndFreesEngine(t *testing.T) {
	h := newHarness(t)
	h.source.Emit(SampleRecord{Domain: h.domain, CPU: 0, PhysAddr: 0x2000, DataMemOp: true})

	stats, err := h.mon.StopMonitoring()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.SamplesAccounted)
	assert.False(t, h.mon.Running())

	_, err = h.mon.StopMonitoring()
	assert.ErrorIs(t, err, ErrNotRunning)
}
