// Package hostiface declares the monitor's external collaborators: the
// host allocator, the guest physmap, NUMA topology queries, and the
// page-fault observer hook. Per the monitor's scope, these are treated as
// external systems — the bulk hypercall surface, NUMA topology discovery
// and the page allocator live elsewhere; only the queries the monitor
// needs are declared here. Simulated.go supplies an in-memory reference
// implementation used by tests and by the example daemon's demo mode.
package hostiface

import "github.com/numamon/numamon/pkg/guest"

// Allocator is the host's page allocator, as seen by the move protocol.
type Allocator interface {
	// AllocOnNode allocates one page on exactly the given node. A real
	// backend must honor "exact node" (no fallback to another node); the
	// protocol only ever asks for exact placement.
	AllocOnNode(node guest.NodeID) (guest.MFN, error)
	// Free returns a page to the allocator.
	Free(mfn guest.MFN)
	// NodeOf reports the NUMA node currently backing mfn.
	NodeOf(mfn guest.MFN) guest.NodeID
}

// StealResult is the outcome of attempting to steal a page's last domain
// reference while keeping a raw reference for the mover.
type StealResult int

const (
	// StealOK: the page was removed from the domain and a raw reference
	// is now held by the caller.
	StealOK StealResult = iota
	// StealShared: the page is shared and must never be moved.
	StealShared
	// StealFailed: a transient failure (e.g. reference churn); safe to
	// retry later.
	StealFailed
)

// Physmap is the host's GFN->MFN binding table for one domain.
type Physmap interface {
	// GFNToMFN resolves the current binding, or ok=false if invalid.
	GFNToMFN(d guest.Domain, gfn guest.GFN) (mfn guest.MFN, ok bool)
	// Steal removes the domain's reference to mfn at gfn, leaving a raw
	// reference with the caller. Refuses shared pages.
	Steal(d guest.Domain, gfn guest.GFN) (guest.MFN, StealResult)
	// Assign hands mfn to the domain as a bare page (no domain-refcount
	// increment); it does not bind mfn to any gfn.
	Assign(d guest.Domain, mfn guest.MFN) error
	// SetReadOnly marks gfn's entry read-only with an access type that
	// routes guest writes to the fault handler rather than dropping them.
	SetReadOnly(d guest.Domain, gfn guest.GFN, mfn guest.MFN) error
	// Replace atomically rebinds gfn to mfn with write access restored,
	// and flushes any translation caches covering gfn.
	Replace(d guest.Domain, gfn guest.GFN, mfn guest.MFN) error
	// UpdateReverseMap refreshes the MFN->GFN reverse mapping for
	// non-translated domains.
	UpdateReverseMap(mfn guest.MFN, gfn guest.GFN)
}

// Topology answers NUMA placement queries.
type Topology interface {
	// NodeOfCPU returns the node a logical CPU belongs to.
	NodeOfCPU(cpu int) guest.NodeID
	// NumNodes returns the number of NUMA nodes on this host.
	NumNodes() int
	// NumCPUs returns the number of logical CPUs the monitor samples on.
	NumCPUs() int
}

// TranslateFunc resolves a guest virtual address sampled on behalf of d
// to a guest frame number. It may fault and so must only be called with
// interrupts enabled, per the sampler's binding-probe window (see
// pkg/monitor).
type TranslateFunc func(d guest.Domain, vaddr uintptr) (gfn guest.GFN, ok bool)

// FaultObserver lets the host's page-fault handler ask whether a given
// (domain, gfn) is mid-move.
type FaultObserver interface {
	IsBeingMoved(d guest.Domain, gfn guest.GFN, wait bool) bool
}

// MemoryCopier copies one page's contents during a move. Kept separate
// from Allocator because a real backend maps both frames transiently to
// do this and wants no other allocator state touched mid-copy.
type MemoryCopier interface {
	CopyPage(src, dst guest.MFN) error
}
