package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/numamon/numamon/pkg/monitor"
)

type fakeProvider struct {
	tracked, candidate, queueLen int
	stats                        monitor.Stats
	moveRateEWMA                 float64
}

func (p fakeProvider) TierCounts() (int, int) { return p.tracked, p.candidate }
func (p fakeProvider) QueueLen() int          { return p.queueLen }
func (p fakeProvider) Stats() monitor.Stats   { return p.stats }
func (p fakeProvider) MoveRateEWMA() float64  { return p.moveRateEWMA }

func TestMonitorCollectorExportsAllSeries(t *testing.T) {
	provider := fakeProvider{
		tracked: 3, candidate: 1, queueLen: 2,
		stats: monitor.Stats{
			SamplesAccounted: 100, Decisions: 10, Proposed: 5,
			Moved: 4, Aborted: 1, Pending: 1, DroppedOnFill: 2,
		},
		moveRateEWMA: 0.75,
	}
	c := NewMonitorCollector(provider)

	assert.Equal(t, 11, testutil.CollectAndCount(c))
}
