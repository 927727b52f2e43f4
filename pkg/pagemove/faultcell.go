// Package pagemove implements the single-page migration protocol: a
// fault-protection rendezvous that pauses guest faults on a page mid-move,
// and the move state machine itself (steal, allocate, assign, protect,
// copy, remap, release).
package pagemove

import (
	"sync"

	"github.com/numamon/numamon/pkg/guest"
)

// target identifies the (domain, gfn) pair a move is in flight for.
type target struct {
	domain uint64
	gfn    guest.GFN
}

// FaultCell is a single-slot rendezvous between the mover and the host's
// page-fault handler. Only one page may be mid-move through a given cell
// at a time: Enter takes the waiter gate before touching the cell, so a
// second Enter waits until the first move's Leave. A concurrent fault
// observer calls IsBeingMoved, which either answers immediately or, if
// asked to wait, blocks on the waiter gate until the mover calls Leave.
type FaultCell struct {
	inner sync.Mutex // guards cur and busy

	gate sync.Mutex // held locked while a move is in flight; faulters block on it
	cur  target
	busy bool
}

// NewFaultCell returns an idle cell.
func NewFaultCell() *FaultCell {
	return &FaultCell{}
}

// Enter marks (d, gfn) as mid-move. Must be paired with Leave.
func (c *FaultCell) Enter(d guest.Domain, gfn guest.GFN) {
	c.gate.Lock()
	c.inner.Lock()
	defer c.inner.Unlock()
	c.cur = target{domain: d.ID(), gfn: gfn}
	c.busy = true
}

// Leave clears the mid-move marker and releases any faulters blocked in
// IsBeingMoved(wait=true).
func (c *FaultCell) Leave() {
	c.inner.Lock()
	defer c.inner.Unlock()
	c.busy = false
	c.cur = target{}
	c.gate.Unlock()
}

// IsBeingMoved reports whether (d, gfn) is currently mid-move. If wait is
// true and the cell is busy for this exact target, it blocks until the
// move completes (Leave) before reporting true once more, giving the
// caller a paced retry point instead of a spin loop.
func (c *FaultCell) IsBeingMoved(d guest.Domain, gfn guest.GFN, wait bool) bool {
	c.inner.Lock()
	busy := c.busy && c.cur == (target{domain: d.ID(), gfn: gfn})
	c.inner.Unlock()
	if !busy {
		return false
	}
	if wait {
		c.gate.Lock()
		c.gate.Unlock()
	}
	return true
}
