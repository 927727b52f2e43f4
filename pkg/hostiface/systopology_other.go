//go:build !linux
// +build !linux

package hostiface

import (
	"errors"

	"github.com/numamon/numamon/pkg/guest"
)

// NewSysTopology is only implemented on Linux, matching the sysfs layout it
// reads; non-Linux builds fall back to SimulatedTopology or a
// caller-supplied Topology.
func NewSysTopology() (*SysTopology, error) {
	return nil, errors.New("hostiface: NewSysTopology is only supported on linux")
}

// SysTopology is an opaque, unusable placeholder on non-Linux builds.
type SysTopology struct{}

func (*SysTopology) NodeOfCPU(int) guest.NodeID { return 0 }
func (*SysTopology) NumNodes() int              { return 0 }
func (*SysTopology) NumCPUs() int               { return 0 }

// HostPageSize falls back to the common 4 KiB assumption off Linux.
func HostPageSize() int {
	return 4096
}
