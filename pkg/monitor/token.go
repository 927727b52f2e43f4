package monitor

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Token is the three-state per-CPU engine-owner value. It is mutated only
// by compare-and-swap: a sampler acquires only its own CPU's token, the
// decider acquires every CPU's token in a fixed order before touching
// shared engine state, establishing mutual exclusion between the two
// without ever blocking a sampler.
type Token uint32

const (
	TokenNone Token = iota
	TokenSampler
	TokenDecider
)

// tokenTable is the per-CPU token array, sized at StartMonitoring.
type tokenTable struct {
	slots []atomix.Uint32
}

func newTokenTable(numCPUs int) *tokenTable {
	t := &tokenTable{slots: make([]atomix.Uint32, numCPUs)}
	for i := range t.slots {
		t.slots[i].StoreRelease(uint32(TokenNone))
	}
	return t
}

// acquireSampler attempts NONE->SAMPLER on cpu's token. It must never
// spin: a sampler that loses the race simply skips this sample, per the
// intake contract.
func (t *tokenTable) acquireSampler(cpu int) bool {
	return t.slots[cpu].CompareAndSwapAcqRel(uint32(TokenNone), uint32(TokenSampler))
}

func (t *tokenTable) releaseSampler(cpu int) {
	t.slots[cpu].CompareAndSwapAcqRel(uint32(TokenSampler), uint32(TokenNone))
}

// acquireAllDecider acquires every CPU's token as DECIDER, spinning with a
// bounded backoff per CPU until each CAS succeeds. CPUs are visited in
// index order every pass, so two concurrent decider invocations (which
// should not happen, but §9 calls for defensiveness here) converge on the
// same acquisition order rather than deadlocking against each other.
func (t *tokenTable) acquireAllDecider() {
	for cpu := range t.slots {
		sw := spin.Wait{}
		for !t.slots[cpu].CompareAndSwapAcqRel(uint32(TokenNone), uint32(TokenDecider)) {
			sw.Once()
		}
	}
}

func (t *tokenTable) releaseAllDecider() {
	for i := range t.slots {
		t.slots[i].StoreRelease(uint32(TokenNone))
	}
}
