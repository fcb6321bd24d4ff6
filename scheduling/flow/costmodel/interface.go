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

// Package costmodel implements the CPU/memory cost model and
// equivalence-class layer consumed by the min-cost max-flow solver: it
// prices every arc class the solver needs, enforces hard placement
// constraints, and folds soft preferences into a single scalar cost.
package costmodel

import "github.com/flowsched/flowsched/pkg/types"

// CostModel is the in-process contract between the cost model and the flow
// solver. Every method is synchronous and returns a complete answer within
// one scheduling round; there are no suspension points. Implementations
// must be driven single-threaded within a round (see PrepareStats).
type CostModel interface {
	// TaskToUnscheduledAgg prices the arc from a task to its job's
	// unscheduled aggregator.
	TaskToUnscheduledAgg(taskID types.TaskID) (ArcDescriptor, error)
	// UnscheduledAggToSink prices the arc from a job's unscheduled
	// aggregator to the sink.
	UnscheduledAggToSink(jobID types.JobID) (ArcDescriptor, error)
	// TaskToResourceNode prices a direct task-to-resource preference
	// override arc, reserved for future dedicated pins.
	TaskToResourceNode(taskID types.TaskID, resID types.ResourceID) (ArcDescriptor, error)
	// ResourceNodeToParent prices the arc from a resource node up to its
	// parent in the topology mirror.
	ResourceNodeToParent(childID, parentID types.ResourceID) (ArcDescriptor, error)
	// LeafToSink prices the arc from a PU leaf to the sink.
	LeafToSink(resID types.ResourceID) (ArcDescriptor, error)
	// TaskContinuation prices the arc that would keep a running task in
	// place across rounds. Placeholder: computing a real continuation cost
	// is out of scope.
	TaskContinuation(taskID types.TaskID) (ArcDescriptor, error)
	// TaskPreemption prices the arc that would evict a running task this
	// round. Placeholder: computing a real preemption cost is out of scope.
	TaskPreemption(taskID types.TaskID) (ArcDescriptor, error)
	// TaskToEquivClass prices the arc from a task to one of its task-ECs.
	TaskToEquivClass(taskID types.TaskID, ec types.EquivClass) (ArcDescriptor, error)
	// EquivClassToEquivClass prices the arc from a task-EC to a machine-EC.
	EquivClassToEquivClass(ec1, ec2 types.EquivClass) (ArcDescriptor, error)
	// EquivClassToResourceNode prices the arc from a machine-EC to its
	// owning machine.
	EquivClassToResourceNode(ec types.EquivClass, resID types.ResourceID) (ArcDescriptor, error)

	// GetTaskEquivClasses returns the task-ECs a task belongs to (today
	// always length 1).
	GetTaskEquivClasses(taskID types.TaskID) ([]types.EquivClass, error)
	// GetTaskPreferenceArcs returns machines a task specifically prefers.
	// Reserved; always empty today because all routing is via ECs.
	GetTaskPreferenceArcs(taskID types.TaskID) ([]types.ResourceID, error)
	// GetOutgoingEquivClassPrefArcs returns the machine-ECs a task-EC may
	// route through this round, computed per §4.6's admission staircase.
	GetOutgoingEquivClassPrefArcs(ec types.EquivClass) ([]types.EquivClass, error)
	// GetEquivClassToEquivClassesArcs returns further ECs reachable from
	// ec (used for EC->EC chains beyond machine-ECs); always empty in this
	// cost model since task-ECs route directly to machine-ECs.
	GetEquivClassToEquivClassesArcs(ec types.EquivClass) ([]types.EquivClass, error)

	AddMachine(subtree *types.ResourceTopologyNodeDescriptor) error
	RemoveMachine(resID types.ResourceID) error
	AddTask(task *types.TaskDescriptor) error
	RemoveTask(taskID types.TaskID) error

	// PrepareStats clears per-round aggregation state on node and below.
	PrepareStats(nodeID types.ResourceID) error
	// GatherStats folds child's latest sample into accumulator, per the
	// post-order walk driven by the orchestrator.
	GatherStats(accumulatorID, childID types.ResourceID) error
	// UpdateStats exists for API symmetry with the solver; always a no-op.
	UpdateStats(accumulatorID, childID types.ResourceID) error

	// DebugInfo returns a short implementation-defined diagnostic string.
	DebugInfo() string
}
