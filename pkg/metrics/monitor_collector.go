package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/numamon/numamon/pkg/monitor"
)

// MonitorStatsProvider is the subset of *monitor.Monitor this collector
// needs.
type MonitorStatsProvider interface {
	TierCounts() (tracked, candidate int)
	QueueLen() int
	Stats() monitor.Stats
	MoveRateEWMA() float64
}

// MonitorCollector adapts a monitoring session's counters into
// Prometheus series, replacing the original's printk-based
// display_stats() with registered counters and gauges.
type MonitorCollector struct {
	provider MonitorStatsProvider

	trackedOccupancy   *prometheus.Desc
	candidateOccupancy *prometheus.Desc
	queueOccupancy     *prometheus.Desc
	samplesAccounted   *prometheus.Desc
	decisions          *prometheus.Desc
	proposed           *prometheus.Desc
	moved              *prometheus.Desc
	aborted            *prometheus.Desc
	pending            *prometheus.Desc
	droppedOnFill      *prometheus.Desc
	moveRateEWMA       *prometheus.Desc
}

// NewMonitorCollector builds a collector reading live counters from
// provider on every scrape.
func NewMonitorCollector(provider MonitorStatsProvider) *MonitorCollector {
	const ns = "numamon"
	return &MonitorCollector{
		provider:           provider,
		trackedOccupancy:   prometheus.NewDesc(ns+"_hotlist_tracked", "Current tracked-tier occupancy.", nil, nil),
		candidateOccupancy: prometheus.NewDesc(ns+"_hotlist_candidate", "Current candidate-tier occupancy.", nil, nil),
		queueOccupancy:     prometheus.NewDesc(ns+"_queue_occupancy", "Current migration queue occupancy.", nil, nil),
		samplesAccounted:   prometheus.NewDesc(ns+"_samples_accounted_total", "Samples accounted into the hotlist.", nil, nil),
		decisions:          prometheus.NewDesc(ns+"_decisions_total", "Decider ticks run.", nil, nil),
		proposed:           prometheus.NewDesc(ns+"_migrations_proposed_total", "Migration proposals produced.", nil, nil),
		moved:              prometheus.NewDesc(ns+"_migrations_moved_total", "Pages successfully moved.", nil, nil),
		aborted:            prometheus.NewDesc(ns+"_migrations_aborted_total", "Queue entries aborted (shared page, invalid mapping, or maxtries).", nil, nil),
		pending:            prometheus.NewDesc(ns+"_migrations_pending", "Queue entries still awaiting a binding or retry.", nil, nil),
		droppedOnFill:      prometheus.NewDesc(ns+"_migrations_dropped_total", "Proposals dropped because the queue was full.", nil, nil),
		moveRateEWMA:       prometheus.NewDesc(ns+"_migrations_moved_ewma", "Exponentially weighted moving average of pages moved per decider tick.", nil, nil),
	}
}

func (c *MonitorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.trackedOccupancy
	ch <- c.candidateOccupancy
	ch <- c.queueOccupancy
	ch <- c.samplesAccounted
	ch <- c.decisions
	ch <- c.proposed
	ch <- c.moved
	ch <- c.aborted
	ch <- c.pending
	ch <- c.droppedOnFill
	ch <- c.moveRateEWMA
}

func (c *MonitorCollector) Collect(ch chan<- prometheus.Metric) {
	tracked, candidate := c.provider.TierCounts()
	ch <- prometheus.MustNewConstMetric(c.trackedOccupancy, prometheus.GaugeValue, float64(tracked))
	ch <- prometheus.MustNewConstMetric(c.candidateOccupancy, prometheus.GaugeValue, float64(candidate))
	ch <- prometheus.MustNewConstMetric(c.queueOccupancy, prometheus.GaugeValue, float64(c.provider.QueueLen()))

	s := c.provider.Stats()
	ch <- prometheus.MustNewConstMetric(c.samplesAccounted, prometheus.CounterValue, float64(s.SamplesAccounted))
	ch <- prometheus.MustNewConstMetric(c.decisions, prometheus.CounterValue, float64(s.Decisions))
	ch <- prometheus.MustNewConstMetric(c.proposed, prometheus.CounterValue, float64(s.Proposed))
	ch <- prometheus.MustNewConstMetric(c.moved, prometheus.CounterValue, float64(s.Moved))
	ch <- prometheus.MustNewConstMetric(c.aborted, prometheus.CounterValue, float64(s.Aborted))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending))
	ch <- prometheus.MustNewConstMetric(c.droppedOnFill, prometheus.CounterValue, float64(s.DroppedOnFill))
	ch <- prometheus.MustNewConstMetric(c.moveRateEWMA, prometheus.GaugeValue, c.provider.MoveRateEWMA())
}
