package pagemove

import (
	"github.com/pkg/errors"

	"github.com/numamon/numamon/pkg/guest"
	"github.com/numamon/numamon/pkg/hostiface"
	"github.com/numamon/numamon/pkg/log"
)

var (
	// ErrAlreadyOnTarget is returned when the page already lives on the
	// requested node; callers treat it as a no-op success, not a failure
	// (migqueue.Drain counts it as moved and still reports the mfn to
	// onMoved).
	ErrAlreadyOnTarget = errors.New("pagemove: page already on target node")
	// ErrInvalidMapping means the gfn no longer resolves to an mfn; the
	// page was freed or unmapped since it was queued.
	ErrInvalidMapping = errors.New("pagemove: gfn has no current mapping")
	// ErrSharedPage means the page is shared between domains and must
	// never be moved.
	ErrSharedPage = errors.New("pagemove: page is shared, refusing to move")
	// ErrStealFailed means a transient failure removing the domain's
	// reference; safe to retry on a later decision round.
	ErrStealFailed = errors.New("pagemove: steal failed")
	// ErrAllocFailed means the target node had no free page to allocate.
	ErrAllocFailed = errors.New("pagemove: allocation on target node failed")
	// ErrAssignFailed means handing the new page to the domain failed
	// after the old page was already stolen; MovePage frees the new page
	// and rebinds gfn to the old one before returning it.
	ErrAssignFailed = errors.New("pagemove: assign of new page failed")
)

// Mover runs the single-page migration protocol against one domain's
// physmap, a page allocator, and a memory copier, guarding every in-flight
// move with a FaultCell so concurrent guest writes to the page being
// moved are paused rather than lost or raced.
type Mover struct {
	cell      *FaultCell
	physmap   hostiface.Physmap
	allocator hostiface.Allocator
	copier    hostiface.MemoryCopier
	log       log.Logger
}

// New builds a Mover. cell may be shared across Movers for different
// domains only if they are never expected to run moves concurrently;
// normally each domain owns its own cell.
func New(cell *FaultCell, physmap hostiface.Physmap, allocator hostiface.Allocator, copier hostiface.MemoryCopier) *Mover {
	return &Mover{cell: cell, physmap: physmap, allocator: allocator, copier: copier, log: log.NewLogger("pagemove")}
}

// MovePage runs steal -> allocate -> assign -> protect -> copy -> remap ->
// release for one (domain, gfn), moving its backing page to target. On
// any error besides ErrAlreadyOnTarget, the gfn's prior mapping is
// restored to what MovePage found it at. The fault cell is entered at
// protect and left when MovePage returns (after remap, the reverse-map
// update and the release of the old page), so a racing guest write
// stalls for roughly one page-copy's duration, not for the whole
// steal/allocate/assign window.
func (m *Mover) MovePage(d guest.Domain, gfn guest.GFN, target guest.NodeID) error {
	oldMFN, ok := m.physmap.GFNToMFN(d, gfn)
	if !ok {
		return ErrInvalidMapping
	}
	if m.allocator.NodeOf(oldMFN) == target {
		return ErrAlreadyOnTarget
	}

	// steal: take the domain's last reference, refusing shared pages.
	stolen, result := m.physmap.Steal(d, gfn)
	switch result {
	case hostiface.StealShared:
		return ErrSharedPage
	case hostiface.StealFailed:
		return ErrStealFailed
	}

	// allocate: get a replacement page on the target node.
	newMFN, err := m.allocator.AllocOnNode(target)
	if err != nil {
		m.restoreOld(d, gfn, stolen)
		return errors.Wrap(ErrAllocFailed, err.Error())
	}

	// assign: hand the domain the new page as a bare reference, before it
	// is bound to gfn or visible to the guest.
	if err := m.physmap.Assign(d, newMFN); err != nil {
		m.allocator.Free(newMFN)
		m.restoreOld(d, gfn, stolen)
		return errors.Wrap(ErrAssignFailed, err.Error())
	}

	// protect: block writes to the old mapping so a racing guest store
	// lands in the fault handler instead of being silently lost, from
	// here through the copy only.
	m.cell.Enter(d, gfn)
	defer m.cell.Leave()
	if err := m.physmap.SetReadOnly(d, gfn, stolen); err != nil {
		m.allocator.Free(newMFN)
		m.restoreOld(d, gfn, stolen)
		return errors.Wrap(err, "pagemove: protect")
	}

	// copy: transfer contents before the domain can see the new page.
	if err := m.copier.CopyPage(stolen, newMFN); err != nil {
		m.allocator.Free(newMFN)
		m.restoreOld(d, gfn, stolen)
		return errors.Wrap(err, "pagemove: copy")
	}

	// remap: rebind gfn to the new mfn and restore write access.
	if err := m.physmap.Replace(d, gfn, newMFN); err != nil {
		m.allocator.Free(newMFN)
		m.restoreOld(d, gfn, stolen)
		return errors.Wrap(err, "pagemove: remap")
	}
	m.physmap.UpdateReverseMap(newMFN, gfn)

	// release the old page only now that gfn is durably bound to the new
	// one; freeing it any earlier would let the allocator hand the old
	// mfn to someone else while gfn's entry still named it.
	m.allocator.Free(stolen)

	// release happens via the deferred cell.Leave, waking any fault
	// handler blocked on IsBeingMoved(wait=true) for this gfn.
	m.log.Debugf("moved gfn %s to node %d (mfn %s -> %s)", gfn, target, oldMFN, newMFN)
	return nil
}

// restoreOld rebinds gfn back to the page it had before this attempt
// stole it, undoing the steal on any failure path taken before the new
// page is durably committed at step "remap".
func (m *Mover) restoreOld(d guest.Domain, gfn guest.GFN, oldMFN guest.MFN) {
	if err := m.physmap.Replace(d, gfn, oldMFN); err != nil {
		m.log.Errorf("pagemove: failed to restore gfn %s to mfn %s after aborted move: %v", gfn, oldMFN, err)
	}
}
