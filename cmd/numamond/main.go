// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/numamon/numamon/pkg/config"
	"github.com/numamon/numamon/pkg/guest"
	"github.com/numamon/numamon/pkg/hostiface"
	"github.com/numamon/numamon/pkg/hotlist"
	"github.com/numamon/numamon/pkg/log"
	"github.com/numamon/numamon/pkg/metrics"
	"github.com/numamon/numamon/pkg/monitor"
	"github.com/numamon/numamon/pkg/pidfile"
	_ "github.com/numamon/numamon/pkg/version" // registers -version
)

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "numamond: "+format+"\n", a...)
	os.Exit(1)
}

type demoDomain struct{ id uint64 }

func (d demoDomain) ID() uint64       { return d.id }
func (d demoDomain) IsHVM() bool      { return true }
func (d demoDomain) Privileged() bool { return false }

func scoringFrom(p config.Parameters) hotlist.Params {
	return hotlist.Params{
		Enter:        p.Enter,
		Increment:    p.Increment,
		Decrement:    p.Decrement,
		Maximum:      p.Maximum,
		Promote:      p.Promote,
		MinNodeScore: p.MinNodeScore,
		MinNodeRate:  p.MinNodeRate,
		Flush:        p.FlushAfterRefill,
	}
}

func main() {
	optConfig := flag.String("config", "", "path to a YAML parameters file (defaults applied if empty)")
	optDemo := flag.Bool("demo", false, "run against an in-memory simulated host instead of a real hypervisor backend")
	optDebug := flag.Bool("debug", false, "enable debug logging")
	optTick := flag.Duration("tick", 2*time.Second, "decider tick interval")
	optListen := flag.String("listen", ":9405", "address to serve /metrics on")
	optNodes := flag.Int("demo-nodes", 2, "NUMA node count for -demo")
	optCPUsPerNode := flag.Int("demo-cpus-per-node", 4, "logical CPUs per node for -demo")
	flag.Parse()

	log.SetDebug(*optDebug)
	logger := log.NewLogger("numamond")

	if err := pidfile.Write(); err != nil {
		exit("%s", err)
	}
	defer func() {
		if err := pidfile.Remove(); err != nil {
			logger.Warnf("failed to remove pidfile: %v", err)
		}
	}()

	params := config.Default()
	if *optConfig != "" {
		p, err := config.Load(*optConfig)
		if err != nil {
			exit("%s", err)
		}
		params = p
	}
	if err := params.Validate(); err != nil {
		exit("%s", err)
	}

	if !*optDemo {
		exit("no production hypervisor backend is wired in this build; pass -demo to run against the simulated host")
	}

	topo := hostiface.NewSimulatedTopology(*optNodes, *optCPUsPerNode)
	alloc := hostiface.NewSimulatedAllocator(1 << 20)
	physmap := hostiface.NewSimulatedPhysmap()
	copier := hostiface.NewSimulatedMemoryCopier()
	translate := func(d guest.Domain, vaddr uintptr) (guest.GFN, bool) {
		return guest.GFN(vaddr >> monitor.PageShift), true
	}

	mon := monitor.New(demoDomain{id: 1}, monitor.Deps{
		Allocator: alloc,
		Physmap:   physmap,
		Topology:  topo,
		Copier:    copier,
		Translate: translate,
	})

	caps := monitor.Capacities{Tracked: params.Tracked, Candidate: params.Candidate, Enqueued: params.Enqueued, MaxTries: params.MaxTries}
	source := monitor.NewSimulatedSource()
	if err := mon.StartMonitoring(caps, scoringFrom(params), source); err != nil {
		exit("failed to start monitoring: %s", err)
	}
	logger.Infof("started, serving metrics on %s, decider tick %s", *optListen, *optTick)

	if err := metrics.RegisterCollector("numamon_monitor", func() (prometheus.Collector, error) {
		return metrics.NewMonitorCollector(mon), nil
	}); err != nil {
		exit("%s", err)
	}
	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		exit("failed to build metric gatherer: %s", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*optListen, mux); err != nil {
			logger.Errorf("metrics server stopped: %v", err)
		}
	}()

	ticker := time.NewTicker(*optTick)
	defer ticker.Stop()
	for range ticker.C {
		res := mon.DecideMigration()
		logger.Debugf("decision: moved=%d aborted=%d pending=%d", res.Moved, res.Aborted, res.Pending)
	}
}
