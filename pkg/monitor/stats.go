package monitor

import "github.com/numamon/numamon/pkg/migqueue"

// Stats is a point-in-time snapshot of the counters the original tracked
// via display_stats(); pkg/metrics mirrors the same fields as Prometheus
// series so both a human-readable snapshot and a scrape target exist.
type Stats struct {
	SamplesAccounted uint64
	Decisions        uint64
	Proposed         uint64
	Moved            uint64
	Aborted          uint64
	Pending          uint64
	DroppedOnFill    uint64
}

func (m *Monitor) addSampled(n uint64) {
	m.statmu.Lock()
	m.stats.SamplesAccounted += n
	m.statmu.Unlock()
}

func (m *Monitor) recordDecision(res migqueue.Result, proposed, dropped int) {
	m.statmu.Lock()
	defer m.statmu.Unlock()
	m.stats.Decisions++
	m.stats.Proposed += uint64(proposed)
	m.stats.Moved += uint64(res.Moved)
	m.stats.Aborted += uint64(res.Aborted)
	m.stats.Pending = uint64(res.Pending)
	m.stats.DroppedOnFill += uint64(dropped)
}

// Stats returns the current snapshot.
func (m *Monitor) Stats() Stats {
	m.statmu.Lock()
	defer m.statmu.Unlock()
	return m.stats
}

// TierCounts exposes current hotlist occupancy, for metrics.
func (m *Monitor) TierCounts() (tracked, candidate int) {
	return m.eng.TierCounts()
}

// QueueLen exposes current queue occupancy, for metrics.
func (m *Monitor) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue == nil {
		return 0
	}
	return m.queue.Len()
}

// MoveRateEWMA reports a smoothed pages-moved-per-decider-tick rate,
// replacing the original's raw tick counters with a trend an operator can
// alarm on without differentiating two scrapes themselves.
func (m *Monitor) MoveRateEWMA() float64 {
	return m.moveRate.EWMA()
}
