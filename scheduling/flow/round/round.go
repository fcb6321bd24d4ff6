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

// Package round drives one scheduling round end to end: refreshing
// utilisation statistics, pricing every runnable task-EC's admissible
// machine-ECs, handing the frozen arc costs to a placement.Solver, and
// translating its verdict into scheduling deltas. It is ambient
// orchestration wiring around the cost model, grounded on
// flowscheduler.scheduler's ScheduleJobs/runSchedulingIteration.
package round

import (
	"github.com/sirupsen/logrus"

	"github.com/flowsched/flowsched/pkg/types"
	"github.com/flowsched/flowsched/scheduling/flow/costmodel"
	"github.com/flowsched/flowsched/scheduling/flow/flowgraph"
	"github.com/flowsched/flowsched/scheduling/flow/placement"
	"github.com/flowsched/flowsched/scheduling/flow/topology"
)

// MachineECResolver resolves a machine-EC back to its owning machine.
// costmodel.Model implements this directly; it is kept out of the
// CostModel interface itself because pricing and stats callers never need
// it, only the round orchestrator translating a solver's verdict into a
// concrete resource id.
type MachineECResolver interface {
	ResolveMachineEC(ec types.EquivClass) (types.ResourceID, uint64, error)
}

// Round holds the state that persists across scheduling rounds: which
// resource subtrees to refresh stats for, and each task's binding as of
// the start of the most recent round (used to classify a new verdict as a
// placement, a migration or a no-op).
type Round struct {
	model    costmodel.CostModel
	resolver MachineECResolver
	topology *topology.Mirror
	taskMap  *types.TaskMap
	solver   placement.Solver

	resourceRoots map[types.ResourceID]struct{}
	taskBindings  map[types.TaskID]types.ResourceID

	log *logrus.Entry
}

// New wires a round orchestrator to a cost model (and its resolver, almost
// always the same *costmodel.Model value), the shared topology mirror and
// task registry, and a placement solver.
func New(model costmodel.CostModel, resolver MachineECResolver, t *topology.Mirror, taskMap *types.TaskMap, solver placement.Solver) *Round {
	return &Round{
		model:         model,
		resolver:      resolver,
		topology:      t,
		taskMap:       taskMap,
		solver:        solver,
		resourceRoots: make(map[types.ResourceID]struct{}),
		taskBindings:  make(map[types.TaskID]types.ResourceID),
		log:           logrus.WithField("component", "round"),
	}
}

// AddResourceRoot registers rootID as a top-level resource subtree whose
// utilisation stats are refreshed every round, mirroring the
// resourceRoots bookkeeping the teacher's event-driven scheduler builds up
// in RegisterResource.
func (r *Round) AddResourceRoot(rootID types.ResourceID) {
	r.resourceRoots[rootID] = struct{}{}
}

// RemoveResourceRoot undoes AddResourceRoot.
func (r *Round) RemoveResourceRoot(rootID types.ResourceID) {
	delete(r.resourceRoots, rootID)
}

func (r *Round) refreshStats() error {
	for rootID := range r.resourceRoots {
		if err := r.model.PrepareStats(rootID); err != nil {
			return err
		}
		var walkErr error
		r.topology.WalkPostOrder(rootID, func(child, parent *types.ResourceDescriptor) {
			if walkErr != nil || parent == nil {
				return
			}
			if err := r.model.GatherStats(parent.UUID, child.UUID); err != nil {
				walkErr = err
			}
		})
		if walkErr != nil {
			return walkErr
		}
	}
	return nil
}

// Run executes one scheduling round over runnableTasks: refresh stats,
// price every distinct task-EC's admissible machine-ECs into a fresh flow
// graph, solve, and return the resulting deltas. It does not itself mutate
// task state; call ApplyDeltas with the result to do that.
func (r *Round) Run(runnableTasks []types.TaskID) ([]types.SchedulingDelta, error) {
	if err := r.refreshStats(); err != nil {
		return nil, err
	}

	ecOfTask := make(map[types.EquivClass][]types.TaskID)
	for _, taskID := range runnableTasks {
		ecs, err := r.model.GetTaskEquivClasses(taskID)
		if err != nil {
			return nil, err
		}
		for _, ec := range ecs {
			ecOfTask[ec] = append(ecOfTask[ec], taskID)
		}
	}

	// Every round prices its arcs into a fresh flow graph rather than a
	// bare map: node ids are drawn from the randomized pool so the solver
	// never reads allocation order as an implicit priority signal, and the
	// candidate list handed to the solver is read back off the graph's own
	// arc structure.
	g := flowgraph.New(true)
	ecNodes := make(map[types.EquivClass]*flowgraph.Node, len(ecOfTask))
	nodeFor := func(ec types.EquivClass) *flowgraph.Node {
		if n, ok := ecNodes[ec]; ok {
			return n
		}
		n := g.AddNode(&flowgraph.Node{Type: flowgraph.EquivalenceClass, EC: ec})
		ecNodes[ec] = n
		return n
	}

	for ec := range ecOfTask {
		taskNode := nodeFor(ec)
		machineECs, err := r.model.GetOutgoingEquivClassPrefArcs(ec)
		if err != nil {
			return nil, err
		}
		for _, mec := range machineECs {
			arc, err := r.model.EquivClassToEquivClass(ec, mec)
			if err != nil {
				return nil, err
			}
			if arc.Capacity == 0 {
				continue
			}
			mecNode := nodeFor(mec)
			g.AddArc(taskNode.ID, mecNode.ID, flowgraph.ArcDescriptor{
				Cost:       arc.Cost,
				Capacity:   arc.Capacity,
				LowerBound: arc.LowerBound,
			}, flowgraph.OtherArc)
		}
	}

	candidates := make(map[types.EquivClass][]placement.Candidate, len(ecOfTask))
	for ec := range ecOfTask {
		node := ecNodes[ec]
		cs := make([]placement.Candidate, 0, len(node.OutgoingArcs()))
		for _, arc := range node.OutgoingArcs() {
			cs = append(cs, placement.Candidate{MachineEC: arc.DstNode.EC, Cost: arc.Cost, Capacity: arc.CapUpperBound})
		}
		candidates[ec] = cs
	}

	mapping, err := r.solver.Solve(candidates)
	if err != nil {
		return nil, err
	}

	var deltas []types.SchedulingDelta
	for ec, tasks := range ecOfTask {
		machineEC, placed := mapping[ec]
		if !placed {
			continue
		}
		machineID, _, err := r.resolver.ResolveMachineEC(machineEC)
		if err != nil {
			return nil, err
		}
		// A task-EC can group many tasks sharing a signature, but the
		// solver's verdict names a single machine-EC slot: one flow unit
		// routed through one admission slot. Only the first member is
		// placed this round; the rest stay runnable and are re-priced
		// next round against the now-reduced available capacity.
		deltas = append(deltas, r.deltaFor(tasks[0], machineID))
	}
	return deltas, nil
}

func (r *Round) deltaFor(taskID types.TaskID, resourceID types.ResourceID) types.SchedulingDelta {
	prev, hadPrev := r.taskBindings[taskID]
	r.taskBindings[taskID] = resourceID
	switch {
	case hadPrev && prev == resourceID:
		return types.SchedulingDelta{Type: types.DeltaNoop, TaskID: taskID, ResourceID: resourceID}
	case hadPrev:
		return types.SchedulingDelta{Type: types.DeltaMigrate, TaskID: taskID, ResourceID: resourceID}
	default:
		return types.SchedulingDelta{Type: types.DeltaPlace, TaskID: taskID, ResourceID: resourceID}
	}
}

// ApplyDeltas updates each delta's task descriptor to reflect its new
// binding, mirroring the teacher's applySchedulingDeltas.
func (r *Round) ApplyDeltas(deltas []types.SchedulingDelta) {
	for _, d := range deltas {
		task := r.taskMap.FindPtrOrNull(d.TaskID)
		if task == nil {
			r.log.WithField("task", d.TaskID).Warn("scheduling delta for unknown task")
			continue
		}
		switch d.Type {
		case types.DeltaPlace, types.DeltaMigrate:
			task.ScheduledToResource = d.ResourceID
			task.HasScheduledResource = true
			task.State = types.TaskRunning
		case types.DeltaPreempt:
			task.HasScheduledResource = false
			task.State = types.TaskRunnable
		case types.DeltaNoop:
		}
	}
}
