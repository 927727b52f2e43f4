package pagemove

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numamon/numamon/pkg/guest"
	"github.com/numamon/numamon/pkg/hostiface"
)

type fakeDomain struct{ id uint64 }

func (d fakeDomain) ID() uint64       { return d.id }
func (d fakeDomain) IsHVM() bool      { return true }
func (d fakeDomain) Privileged() bool { return false }

func newHarness(t *testing.T) (*Mover, *hostiface.SimulatedPhysmap, *hostiface.SimulatedAllocator, *hostiface.SimulatedMemoryCopier) {
	t.Helper()
	physmap := hostiface.NewSimulatedPhysmap()
	alloc := hostiface.NewSimulatedAllocator(1000)
	copier := hostiface.NewSimulatedMemoryCopier()
	mover := New(NewFaultCell(), physmap, alloc, copier)
	return mover, physmap, alloc, copier
}

func TestMovePageHappyPath(t *testing.T) {
	mover, physmap, alloc, copier := newHarness(t)
	d := fakeDomain{id: 1}

	alloc.SetNode(42, 0)
	physmap.Seed(7, 42, false)
	copier.Write(42, []byte("hello"))

	err := mover.MovePage(d, 7, 1)
	require.NoError(t, err)

	newMFN, ok := physmap.GFNToMFN(d, 7)
	require.True(t, ok)
	assert.NotEqual(t, guest.MFN(42), newMFN)
	assert.Equal(t, []byte("hello"), copier.Read(newMFN))
}

func TestMovePageAlreadyOnTarget(t *testing.T) {
	mover, physmap, alloc, _ := newHarness(t)
	d := fakeDomain{id: 1}
	alloc.SetNode(42, 1)
	physmap.Seed(7, 42, false)

	err := mover.MovePage(d, 7, 1)
	assert.ErrorIs(t, err, ErrAlreadyOnTarget)
}

func TestMovePageRefusesSharedPage(t *testing.T) {
	mover, physmap, alloc, _ := newHarness(t)
	d := fakeDomain{id: 1}
	alloc.SetNode(42, 0)
	physmap.Seed(7, 42, true)

	err := mover.MovePage(d, 7, 1)
	assert.ErrorIs(t, err, ErrSharedPage)
}

func TestMovePageInvalidMapping(t *testing.T) {
	mover, _, _, _ := newHarness(t)
	d := fakeDomain{id: 1}
	err := mover.MovePage(d, 99, 1)
	assert.ErrorIs(t, err, ErrInvalidMapping)
}

func TestFaultCellBlocksConcurrentFaultUntilLeave(t *testing.T) {
	cell := NewFaultCell()
	d := fakeDomain{id: 5}
	cell.Enter(d, 3)

	var observed bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		observed = cell.IsBeingMoved(d, 3, true)
	}()

	time.Sleep(10 * time.Millisecond) // give the waiter time to block on the gate
	cell.Leave()
	wg.Wait()

	assert.True(t, observed)
	assert.False(t, cell.IsBeingMoved(d, 3, false))
}
