//go:build linux
// +build linux

package hostiface

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/numamon/numamon/pkg/guest"
)

const nodeSysfsRoot = "/sys/devices/system/node"

// SysTopology discovers real NUMA topology from sysfs, the same node/cpulist
// files numactl and libnuma read, giving the monitor a Topology backend that
// needs no hypervisor-specific integration work. It is read once at
// construction; topology is assumed stable for the life of a monitoring
// session, matching every other Topology implementation in this package.
type SysTopology struct {
	nodeOfCPU map[int]guest.NodeID
	numNodes  int
	numCPUs   int
}

// NewSysTopology builds a Topology from /sys/devices/system/node. It fails
// if no node directories are found, e.g. on a single-node host with no NUMA
// sysfs tree at all.
func NewSysTopology() (*SysTopology, error) {
	entries, err := os.ReadDir(nodeSysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("hostiface: reading %s: %w", nodeSysfsRoot, err)
	}

	nodeOfCPU := make(map[int]guest.NodeID)
	numNodes := 0
	maxCPU := -1

	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, "node") {
			continue
		}
		nodeNum, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}
		numNodes++

		raw, err := os.ReadFile(filepath.Join(nodeSysfsRoot, name, "cpulist"))
		if err != nil {
			return nil, fmt.Errorf("hostiface: reading %s cpulist: %w", name, err)
		}
		cpus, err := parseCPUList(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("hostiface: parsing %s cpulist: %w", name, err)
		}
		for _, cpu := range cpus {
			nodeOfCPU[cpu] = guest.NodeID(nodeNum)
			if cpu > maxCPU {
				maxCPU = cpu
			}
		}
	}

	if numNodes == 0 {
		return nil, fmt.Errorf("hostiface: no NUMA nodes found under %s", nodeSysfsRoot)
	}

	return &SysTopology{nodeOfCPU: nodeOfCPU, numNodes: numNodes, numCPUs: maxCPU + 1}, nil
}

// parseCPUList parses a sysfs cpulist like "0-3,8,10-11".
func parseCPUList(s string) ([]int, error) {
	var cpus []int
	if s == "" {
		return cpus, nil
	}
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		loN, err := strconv.Atoi(lo)
		if err != nil {
			return nil, err
		}
		if !isRange {
			cpus = append(cpus, loN)
			continue
		}
		hiN, err := strconv.Atoi(hi)
		if err != nil {
			return nil, err
		}
		for c := loN; c <= hiN; c++ {
			cpus = append(cpus, c)
		}
	}
	return cpus, nil
}

func (t *SysTopology) NodeOfCPU(cpu int) guest.NodeID {
	if node, ok := t.nodeOfCPU[cpu]; ok {
		return node
	}
	return 0
}

func (t *SysTopology) NumNodes() int { return t.numNodes }
func (t *SysTopology) NumCPUs() int  { return t.numCPUs }

// HostPageSize reports the real host page size via getpagesize(2), letting
// callers cross-check assumptions like monitor.PageShift against the host
// they are actually running on instead of hardcoding 4 KiB.
func HostPageSize() int {
	return unix.Getpagesize()
}
