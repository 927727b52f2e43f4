package hostiface

import (
	"sync"

	"github.com/numamon/numamon/pkg/guest"
)

// SimulatedTopology is a fixed CPU->node map for tests and demo mode.
type SimulatedTopology struct {
	cpuNode []guest.NodeID
	nodes   int
}

// NewSimulatedTopology builds a topology with cpusPerNode logical CPUs on
// each of nodes NUMA nodes, numbered densely: node 0 gets the first
// cpusPerNode CPUs, node 1 the next, and so on.
func NewSimulatedTopology(nodes, cpusPerNode int) *SimulatedTopology {
	t := &SimulatedTopology{nodes: nodes}
	for n := 0; n < nodes; n++ {
		for c := 0; c < cpusPerNode; c++ {
			t.cpuNode = append(t.cpuNode, guest.NodeID(n))
		}
	}
	return t
}

func (t *SimulatedTopology) NodeOfCPU(cpu int) guest.NodeID {
	if cpu < 0 || cpu >= len(t.cpuNode) {
		return guest.InvalidNode
	}
	return t.cpuNode[cpu]
}

func (t *SimulatedTopology) NumNodes() int { return t.nodes }
func (t *SimulatedTopology) NumCPUs() int  { return len(t.cpuNode) }

// SimulatedAllocator is an in-memory page allocator that hands out
// monotonically increasing MFNs tagged with the node they were
// "allocated" on. It never actually runs out; callers that want to
// exercise ErrResourceExhausted-style paths should wrap it.
type SimulatedAllocator struct {
	mu   sync.Mutex
	next guest.MFN
	node map[guest.MFN]guest.NodeID
}

// NewSimulatedAllocator returns an allocator whose MFNs start at
// firstFree, to avoid colliding with MFNs the caller seeded by hand.
func NewSimulatedAllocator(firstFree guest.MFN) *SimulatedAllocator {
	return &SimulatedAllocator{next: firstFree, node: map[guest.MFN]guest.NodeID{}}
}

func (a *SimulatedAllocator) AllocOnNode(node guest.NodeID) (guest.MFN, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mfn := a.next
	a.next++
	a.node[mfn] = node
	return mfn, nil
}

func (a *SimulatedAllocator) Free(mfn guest.MFN) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.node, mfn)
}

func (a *SimulatedAllocator) NodeOf(mfn guest.MFN) guest.NodeID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.node[mfn]; ok {
		return n
	}
	return guest.InvalidNode
}

// SetNode seeds the allocator's view of a pre-existing MFN's node,
// without handing out a new allocation. Used to build a starting physmap
// in tests and demo mode.
func (a *SimulatedAllocator) SetNode(mfn guest.MFN, node guest.NodeID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.node[mfn] = node
}

type physmapEntry struct {
	mfn      guest.MFN
	shared   bool
	readOnly bool
}

// SimulatedPhysmap is an in-memory, single-domain GFN->MFN table good
// enough to drive the move protocol end to end in tests and demo mode.
// It tracks one pseudo-domain; callers that need more should key a map
// of these by domain ID.
type SimulatedPhysmap struct {
	mu      sync.Mutex
	entries map[guest.GFN]*physmapEntry
	reverse map[guest.MFN]guest.GFN
}

func NewSimulatedPhysmap() *SimulatedPhysmap {
	return &SimulatedPhysmap{
		entries: map[guest.GFN]*physmapEntry{},
		reverse: map[guest.MFN]guest.GFN{},
	}
}

// Seed installs an initial GFN->MFN binding, marking it shared if share
// is true (Steal will then refuse it).
func (p *SimulatedPhysmap) Seed(gfn guest.GFN, mfn guest.MFN, shared bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[gfn] = &physmapEntry{mfn: mfn, shared: shared}
	p.reverse[mfn] = gfn
}

func (p *SimulatedPhysmap) GFNToMFN(_ guest.Domain, gfn guest.GFN) (guest.MFN, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[gfn]
	if !ok {
		return guest.InvalidMFN, false
	}
	return e.mfn, true
}

func (p *SimulatedPhysmap) Steal(_ guest.Domain, gfn guest.GFN) (guest.MFN, StealResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[gfn]
	if !ok {
		return guest.InvalidMFN, StealFailed
	}
	if e.shared {
		return guest.InvalidMFN, StealShared
	}
	delete(p.entries, gfn)
	delete(p.reverse, e.mfn)
	return e.mfn, StealOK
}

func (p *SimulatedPhysmap) Assign(_ guest.Domain, mfn guest.MFN) error {
	// Bare assignment is only meaningful paired with SetReadOnly/Replace,
	// which record the gfn; nothing to do on the entry map itself here.
	return nil
}

func (p *SimulatedPhysmap) SetReadOnly(_ guest.Domain, gfn guest.GFN, mfn guest.MFN) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[gfn] = &physmapEntry{mfn: mfn, readOnly: true}
	return nil
}

func (p *SimulatedPhysmap) Replace(_ guest.Domain, gfn guest.GFN, mfn guest.MFN) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.entries[gfn]
	if old != nil {
		delete(p.reverse, old.mfn)
	}
	p.entries[gfn] = &physmapEntry{mfn: mfn}
	p.reverse[mfn] = gfn
	return nil
}

func (p *SimulatedPhysmap) UpdateReverseMap(mfn guest.MFN, gfn guest.GFN) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reverse[mfn] = gfn
}

// SimulatedMemoryCopier backs pages with byte slices so CopyPage has real
// content to move, letting tests assert the destination actually carries
// the source's bytes after a move.
type SimulatedMemoryCopier struct {
	mu      sync.Mutex
	content map[guest.MFN][]byte
}

func NewSimulatedMemoryCopier() *SimulatedMemoryCopier {
	return &SimulatedMemoryCopier{content: map[guest.MFN][]byte{}}
}

// Write seeds a page's contents, e.g. for test setup.
func (c *SimulatedMemoryCopier) Write(mfn guest.MFN, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.content[mfn] = buf
}

// Read returns a page's current contents.
func (c *SimulatedMemoryCopier) Read(mfn guest.MFN) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content[mfn]
}

func (c *SimulatedMemoryCopier) CopyPage(src, dst guest.MFN) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(c.content[src]))
	copy(buf, c.content[src])
	c.content[dst] = buf
	return nil
}
