// Package monitor ties the engine, migration queue and page-move
// protocol into the running pipeline: it starts/stops the sample source,
// demultiplexes its NMI-priority callbacks, arbitrates engine ownership
// through per-CPU tokens, and runs the periodic decider tick.
package monitor

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/numamon/numamon/pkg/engine"
	"github.com/numamon/numamon/pkg/guest"
	"github.com/numamon/numamon/pkg/hostiface"
	"github.com/numamon/numamon/pkg/hotlist"
	"github.com/numamon/numamon/pkg/log"
	"github.com/numamon/numamon/pkg/metricsring"
	"github.com/numamon/numamon/pkg/migqueue"
	"github.com/numamon/numamon/pkg/pagemove"
)

// moveRateRingLen sizes the ring (and EWMA age) behind MoveRateEWMA. It
// is kept above the 10-sample length below which metricsring.EWMA
// always reports 0.
const moveRateRingLen = 16

var (
	// ErrResourceExhausted is refused at StartMonitoring if engine/queue
	// allocation fails.
	ErrResourceExhausted = errors.New("monitor: resource exhausted")
	// ErrSourceUnavailable means no supported sample source was found.
	ErrSourceUnavailable = errors.New("monitor: no sample source available")
	// ErrAlreadyRunning/ErrNotRunning guard the lifecycle calls.
	ErrAlreadyRunning = errors.New("monitor: already running")
	ErrNotRunning     = errors.New("monitor: not running")
)

// Capacities are the three fixed sizes a monitoring session allocates.
type Capacities struct {
	Tracked   int
	Candidate int
	Enqueued  int
	MaxTries  uint32
}

// Deps are the host collaborators the monitor needs; all are externally
// supplied (see hostiface), since discovering or implementing them is out
// of scope here.
type Deps struct {
	Allocator hostiface.Allocator
	Physmap   hostiface.Physmap
	Topology  hostiface.Topology
	Copier    hostiface.MemoryCopier
	Translate hostiface.TranslateFunc
}

// Monitor is one running (or stopped) monitoring session for a single
// domain. A production host would keep one per guest; nothing here
// prevents running several concurrently as long as each owns its own
// FaultCell (the fault-protection cell is documented as single-slot, but
// that slot is scoped per Monitor/domain, matching the protocol's
// (domain, GFN) identity).
type Monitor struct {
	mu      sync.Mutex // guards lifecycle transitions only
	running bool

	deps   Deps
	domain guest.Domain

	eng    *engine.Engine
	queue  *migqueue.Queue
	mover  *pagemove.Mover
	cell   *pagemove.FaultCell
	tokens *tokenTable
	source SampleSource

	stats    Stats
	statmu   sync.Mutex // guards stats, touched from both intake and decider
	moveRate metricsring.SampleBuffer

	log log.Logger
}

// New builds an idle monitor for one domain against its host
// collaborators. Call StartMonitoring before sampling.
func New(domain guest.Domain, deps Deps) *Monitor {
	return &Monitor{
		domain:   domain,
		deps:     deps,
		eng:      engine.New(),
		cell:     pagemove.NewFaultCell(),
		moveRate: metricsring.NewMetricsRing(moveRateRingLen),
		log:      log.NewLogger("monitor"),
	}
}

// StartMonitoring allocates the engine and queue, pushes initial
// parameters, and enables the first available sample source from
// candidates.
func (m *Monitor) StartMonitoring(caps Capacities, scoring hotlist.Params, candidates ...SampleSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}

	source, err := SelectSource(candidates...)
	if err != nil {
		return err
	}

	if err := m.eng.Alloc(caps.Tracked, caps.Candidate); err != nil {
		return errors.Wrap(ErrResourceExhausted, err.Error())
	}
	m.eng.Init()
	if err := m.eng.ParamLists(scoring.Enter, scoring.Increment, scoring.Decrement, scoring.Maximum); err != nil {
		m.eng.Free()
		return err
	}
	m.eng.ParamEngine(scoring.MinNodeScore, scoring.MinNodeRate, scoring.Flush)

	m.queue = migqueue.New(caps.Enqueued, caps.MaxTries)
	m.mover = pagemove.New(m.cell, m.deps.Physmap, m.deps.Allocator, m.deps.Copier)
	m.tokens = newTokenTable(m.deps.Topology.NumCPUs())
	m.stats = Stats{}

	if err := source.Start(m.handleSample); err != nil {
		m.eng.Free()
		return errors.Wrap(ErrSourceUnavailable, err.Error())
	}
	m.source = source
	m.running = true
	m.log.Infof("monitoring started on domain %d using %s source", m.domain.ID(), source.Name())
	return nil
}

// StopMonitoring disables the sample source, releases engine and queue
// storage, and returns a final statistics snapshot.
func (m *Monitor) StopMonitoring() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return Stats{}, ErrNotRunning
	}
	m.source.Stop()
	m.eng.Free()
	m.queue = nil
	m.running = false
	m.log.Infof("monitoring stopped on domain %d", m.domain.ID())
	return m.Stats(), nil
}

// Running reports whether a monitoring session is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// handleSample is the NMI-priority intake path: filter, account, probe,
// release. It allocates nothing; it can wait briefly on the hotlist's
// params read lock and on statmu.
func (m *Monitor) handleSample(rec SampleRecord) {
	if !rec.DataMemOp || rec.Domain == nil || !rec.Domain.IsHVM() || rec.Domain.Privileged() {
		return
	}
	if !m.tokens.acquireSampler(rec.CPU) {
		return
	}
	defer m.tokens.releaseSampler(rec.CPU)

	mfn := guest.MFN(rec.PhysAddr >> PageShift)
	node := m.deps.Topology.NodeOfCPU(rec.CPU)
	m.eng.RegisterAccess(mfn, node)
	m.addSampled(1)

	m.queue.ProbeBinding(rec.Domain, mfn, rec.VAddr, m.deps.Translate)
}

// DecideMigration is the periodic, non-NMI decider tick: acquire every
// CPU's token, drain the queue, refill it from a fresh migration buffer,
// then release every token.
func (m *Monitor) DecideMigration() migqueue.Result {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return migqueue.Result{}
	}

	m.tokens.acquireAllDecider()
	defer m.tokens.releaseAllDecider()

	m.eng.Decay()

	drainRes := m.queue.Drain(m.mover, m.deps.Allocator, m.eng.RegisterPageMoved)

	proposals := m.eng.RefillMigrationBuffer(m.deps.Allocator.NodeOf)
	qProposals := make([]migqueue.Proposal, len(proposals))
	for i, p := range proposals {
		qProposals[i] = migqueue.Proposal{MFN: p.MFN, Target: p.Target}
	}
	_, dropped := m.queue.Fill(m.domain, qProposals)

	m.recordDecision(drainRes, len(proposals), dropped)
	m.moveRate.Push(float64(drainRes.Moved))
	return drainRes
}

// SetScores and SetCriteria update live parameters. This package has no
// setter for the capacities (tracked, candidate, enqueued): a caller
// changes them by calling StopMonitoring and then StartMonitoring with
// new Capacities.
func (m *Monitor) SetScores(enter, increment, decrement, maximum uint32) error {
	return m.eng.ParamLists(enter, increment, decrement, maximum)
}

func (m *Monitor) SetCriteria(minNodeScore, minNodeRate uint32, flushAfterRefill bool) {
	m.eng.ParamEngine(minNodeScore, minNodeRate, flushAfterRefill)
}
