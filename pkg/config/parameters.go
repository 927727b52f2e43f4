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

// Package config holds the monitor's dynamic configuration: capacities,
// scoring parameters, refill criteria and retry rules. Values are
// marshalled with github.com/ghodss/yaml, matching the rest of the
// teacher's configuration tooling.
package config

import (
	"io/ioutil"

	"github.com/ghodss/yaml"
)

// Parameters is the full set of monitor knobs exposed on the control
// surface. Capacity changes (Tracked/Candidate/Enqueued) require
// stopping and restarting monitoring; Monitor.SetScores and
// Monitor.SetCriteria apply Enter/Increment/Decrement/Maximum and the
// refill criteria to a running monitor, while MaxTries is read only when
// monitoring starts.
type Parameters struct {
	// Capacities. Changing any of these stops and restarts monitoring.
	Tracked   int `json:"tracked"`
	Candidate int `json:"candidate"`
	Enqueued  int `json:"enqueued"`

	// Scoring (set_scores).
	Enter     uint32 `json:"enter"`
	Increment uint32 `json:"increment"`
	Decrement uint32 `json:"decrement"`
	Maximum   uint32 `json:"maximum"`

	// Promote is the score at which a tracked entry is considered for
	// promotion; zero means "use Maximum", the original behavior.
	Promote uint32 `json:"promote,omitempty"`

	// Refill criteria (set_criteria).
	MinNodeScore     uint32 `json:"min_node_score"`
	MinNodeRate      uint32 `json:"min_node_rate"`
	FlushAfterRefill bool   `json:"flush_after_refill"`

	// Rules (set_rules).
	MaxTries uint32 `json:"maxtries"`
}

// Default returns the conservative starting point used by cmd/numamond
// when no configuration file is given.
func Default() Parameters {
	return Parameters{
		Tracked:   256,
		Candidate: 64,
		Enqueued:  32,

		Enter:     4,
		Increment: 6,
		Decrement: 4,
		Maximum:   75,

		MinNodeScore:     8,
		MinNodeRate:      75,
		FlushAfterRefill: false,

		MaxTries: 8,
	}
}

// SameCapacities reports whether p and other agree on every
// capacity-changing field, i.e. whether applying other to a running
// monitor can be done live rather than via stop/restart.
func (p Parameters) SameCapacities(other Parameters) bool {
	return p.Tracked == other.Tracked && p.Candidate == other.Candidate && p.Enqueued == other.Enqueued
}

// Load reads and validates a YAML parameters file.
func Load(path string) (Parameters, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Parameters{}, err
	}
	p := Default()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Parameters{}, err
	}
	return p, p.Validate()
}

// Validate checks the invariants the control surface relies on:
// enter must not exceed maximum, and every capacity must be positive.
func (p Parameters) Validate() error {
	if p.Enter > p.Maximum {
		return &ValidationError{Field: "enter", Msg: "must not exceed maximum"}
	}
	if p.Tracked <= 0 || p.Candidate <= 0 || p.Enqueued <= 0 {
		return &ValidationError{Field: "tracked/candidate/enqueued", Msg: "must be positive"}
	}
	return nil
}

// ValidationError reports a single malformed configuration field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Msg
}
