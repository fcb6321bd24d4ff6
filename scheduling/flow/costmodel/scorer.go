// Copyright 2024 The flowsched Authors
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

package costmodel

import (
	"sync"

	"github.com/flowsched/flowsched/pkg/types"
)

// PriorityScorer is component C5. It maintains, per task-EC, a map
// machine_id -> {node_affinity, pod_affinity} raw scores plus a min/max
// tracker, and normalises lazily: the first read of a (task-EC, machine)
// pair on an axis computes final_score and caches it; later reads on the
// same axis in the same round reuse the cached value, matching the
// round's frozen-input contract (§5).
type PriorityScorer struct {
	mu sync.Mutex

	omega int64

	nodeAffinity map[types.EquivClass]map[types.ResourceID]*score
	podAffinity  map[types.EquivClass]map[types.ResourceID]*score

	nodeMinMax map[types.EquivClass]*minMax
	podMinMax  map[types.EquivClass]*minMax
}

// NewPriorityScorer returns a scorer with empty round state.
func NewPriorityScorer(omega int64) *PriorityScorer {
	return &PriorityScorer{
		omega:        omega,
		nodeAffinity: make(map[types.EquivClass]map[types.ResourceID]*score),
		podAffinity:  make(map[types.EquivClass]map[types.ResourceID]*score),
		nodeMinMax:   make(map[types.EquivClass]*minMax),
		podMinMax:    make(map[types.EquivClass]*minMax),
	}
}

// Reset clears every task-EC's cached scores, matching the source's
// documented (if coarse) behaviour of wiping all task-ECs' priority caches
// whenever any one of them starts a fresh EC-preference pass, rather than
// scoping the clear to the single EC being recomputed. This is preserved
// deliberately per the Open Question in spec §9; see DESIGN.md.
func (s *PriorityScorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeAffinity = make(map[types.EquivClass]map[types.ResourceID]*score)
	s.podAffinity = make(map[types.EquivClass]map[types.ResourceID]*score)
	s.nodeMinMax = make(map[types.EquivClass]*minMax)
	s.podMinMax = make(map[types.EquivClass]*minMax)
}

// RecordNodeAffinity stores the raw weighted-sum score for node-affinity
// preferred terms and folds it into ec's min/max tracker. satisfy is false
// when one of the preferred terms could not be evaluated against the
// machine (e.g. an unsupported operator); such a score is kept out of the
// min/max tracker and normalises to 0.
func (s *PriorityScorer) RecordNodeAffinity(ec types.EquivClass, machineID types.ResourceID, satisfy bool, raw int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(s.nodeAffinity, ec, machineID, satisfy, raw)
	if satisfy {
		s.observeMinMax(s.nodeMinMax, ec, raw)
	}
}

// RecordPodAffinity stores the raw weighted-sum score for
// pod-affinity/anti-affinity preferred terms and folds it into ec's
// min/max tracker.
func (s *PriorityScorer) RecordPodAffinity(ec types.EquivClass, machineID types.ResourceID, raw int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(s.podAffinity, ec, machineID, true, raw)
	s.observeMinMax(s.podMinMax, ec, raw)
}

func (s *PriorityScorer) record(m map[types.EquivClass]map[types.ResourceID]*score, ec types.EquivClass, machineID types.ResourceID, satisfy bool, raw int64) {
	byMachine, ok := m[ec]
	if !ok {
		byMachine = make(map[types.ResourceID]*score)
		m[ec] = byMachine
	}
	byMachine[machineID] = &score{satisfy: satisfy, raw: raw}
}

func (s *PriorityScorer) observeMinMax(m map[types.EquivClass]*minMax, ec types.EquivClass, raw int64) {
	mm, ok := m[ec]
	if !ok {
		mm = &minMax{}
		m[ec] = mm
	}
	mm.observe(raw)
}

// NormalizedNodeAffinity returns final_score in [0, omega] for (ec,
// machineID), computing and caching it on first access. Unsatisfied
// machines normalise to 0 (full penalty once the caller applies
// Omega - final as the cost contribution). A machine never scored on this
// axis at all (the task carries no node-affinity preferred terms) is
// treated as fully satisfied (omega, i.e. no penalty) rather than
// poisoning the comparison with an artificial zero.
func (s *PriorityScorer) NormalizedNodeAffinity(ec types.EquivClass, machineID types.ResourceID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMachine := s.nodeAffinity[ec]
	if byMachine == nil {
		return s.omega
	}
	sc, ok := byMachine[machineID]
	if !ok {
		return s.omega
	}
	if sc.final != nil {
		return *sc.final
	}
	var final int64
	if !sc.satisfy {
		final = 0
	} else {
		mm := s.nodeMinMax[ec]
		if mm == nil || mm.max == nil || *mm.max == 0 {
			final = 0
		} else {
			final = int64(float64(sc.raw) / float64(*mm.max) * float64(s.omega))
		}
	}
	sc.final = &final
	return final
}

// NormalizedPodAffinity returns final_score in [0, omega] for (ec,
// machineID) using min/max normalisation, computing and caching it on
// first access. When max == min the boundary rule applies: final = 0. A
// machine never scored on this axis (no pod-affinity/anti-affinity
// preferred terms at all) is treated as fully satisfied (omega).
func (s *PriorityScorer) NormalizedPodAffinity(ec types.EquivClass, machineID types.ResourceID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMachine := s.podAffinity[ec]
	if byMachine == nil {
		return s.omega
	}
	sc, ok := byMachine[machineID]
	if !ok {
		return s.omega
	}
	if sc.final != nil {
		return *sc.final
	}
	var final int64
	mm := s.podMinMax[ec]
	if mm == nil || mm.min == nil || mm.max == nil || *mm.max == *mm.min {
		final = 0
	} else {
		final = int64(float64(sc.raw-*mm.min) / float64(*mm.max-*mm.min) * float64(s.omega))
	}
	sc.final = &final
	return final
}
