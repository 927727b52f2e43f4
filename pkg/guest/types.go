// Package guest defines the identifiers shared across the migration
// monitor: machine frame numbers, guest frame numbers, NUMA node ids and
// the domain handle the monitor moves pages on behalf of.
package guest

import "fmt"

// MFN is a machine (host physical) frame number.
type MFN uint64

// InvalidMFN marks an empty or unresolved machine frame.
const InvalidMFN MFN = ^MFN(0)

// GFN is a guest (physical) frame number, a guest's view of a page.
type GFN uint64

// InvalidGFN marks a guest frame binding that has not been resolved yet.
const InvalidGFN GFN = ^GFN(0)

// NodeID identifies a NUMA node in [0, MaxNodes).
type NodeID uint32

// MaxNodes bounds the per-node access vector kept for candidate pages.
// 64 covers every NUMA topology this monitor is expected to run on; a
// larger host would need a wider vector and a different score encoding.
const MaxNodes = 64

// InvalidNode marks "no target node decided yet".
const InvalidNode NodeID = ^NodeID(0)

// Domain is the opaque owner of a set of GFN->MFN bindings. The monitor
// never interprets a Domain beyond comparing identity and asking for its
// id in log messages; the host supplies the concrete implementation.
type Domain interface {
	// ID returns a stable identifier for log/metric labels.
	ID() uint64
	// IsHVM reports whether this domain is a hardware-virtualized guest.
	// Only HVM guests are ever sampled or migrated (see sampler intake).
	IsHVM() bool
	// Privileged reports whether this is a reserved/control domain, which
	// the sampler intake must never account or migrate pages for.
	Privileged() bool
}

func (m MFN) String() string { return fmt.Sprintf("mfn:%#x", uint64(m)) }
func (g GFN) String() string { return fmt.Sprintf("gfn:%#x", uint64(g)) }
