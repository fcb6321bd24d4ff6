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

// Package placement holds the interface the round orchestrator hands the
// cost model's frozen arc costs to. The actual min-cost max-flow solve
// (an external solver binary in the original architecture) is out of
// scope here; this package only carries the boundary and a couple of
// in-memory implementations useful for tests and small clusters.
package placement

import "github.com/flowsched/flowsched/pkg/types"

// Candidate is one machine-EC a task-EC could route through this round,
// carrying the arc cost/capacity the cost model computed for it.
type Candidate struct {
	MachineEC types.EquivClass
	Cost      int64
	Capacity  uint64
}

// TaskMapping is the solver's verdict: for every task-EC it chose to route,
// which machine-EC it landed on. A task-EC absent from the mapping means
// the solver left it unscheduled this round (routed to the unscheduled
// aggregator instead).
type TaskMapping map[types.EquivClass]types.EquivClass

// Solver is the interface the round orchestrator hands the frozen
// candidate arcs to. Implementations are free to run an external min-cost
// max-flow solver, an in-process algorithm, or (for tests) a fixed
// heuristic; the orchestrator only depends on this contract.
type Solver interface {
	Solve(candidates map[types.EquivClass][]Candidate) (TaskMapping, error)
}

// NopSolver never places anything; every task-EC is left unscheduled. It
// exists as the zero-behaviour fake for tests exercising only the
// unscheduled-aggregator path.
type NopSolver struct{}

// Solve implements Solver.
func (NopSolver) Solve(candidates map[types.EquivClass][]Candidate) (TaskMapping, error) {
	return TaskMapping{}, nil
}

// GreedySolver assigns each task-EC to its single cheapest admissible
// candidate, independently of every other task-EC. It does not enforce a
// machine-EC's capacity across multiple task-ECs racing for the same slot;
// callers that need max-flow-correct exclusivity must supply their own
// Solver. It exists to give the cost model's arc stream a runnable
// end-to-end caller for tests and small, single-task-EC-per-slot clusters.
type GreedySolver struct{}

// Solve implements Solver.
func (GreedySolver) Solve(candidates map[types.EquivClass][]Candidate) (TaskMapping, error) {
	tm := make(TaskMapping, len(candidates))
	for taskEC, cs := range candidates {
		best, ok := cheapest(cs)
		if ok {
			tm[taskEC] = best
		}
	}
	return tm, nil
}

func cheapest(cs []Candidate) (types.EquivClass, bool) {
	var (
		best    types.EquivClass
		bestSet bool
		bestCst int64
	)
	for _, c := range cs {
		if c.Capacity == 0 {
			continue
		}
		if !bestSet || c.Cost < bestCst {
			best, bestCst, bestSet = c.MachineEC, c.Cost, true
		}
	}
	return best, bestSet
}
