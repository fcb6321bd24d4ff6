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

// Descriptor types stand in for the protobuf wire schema, which is an
// external collaborator out of scope for this module (see spec §1). Field
// names mirror the wire schema's so that a transport layer can be slotted in
// later without touching the cost model.

package types

import (
	v1 "k8s.io/api/core/v1"
)

type ResourceType int

const (
	ResourceCoordinator ResourceType = iota + 1
	ResourceMachine
	ResourceNumaNode
	ResourceSocket
	ResourceCore
	ResourcePu
)

func (t ResourceType) String() string {
	switch t {
	case ResourceCoordinator:
		return "COORDINATOR"
	case ResourceMachine:
		return "MACHINE"
	case ResourceNumaNode:
		return "NUMA_NODE"
	case ResourceSocket:
		return "SOCKET"
	case ResourceCore:
		return "CORE"
	case ResourcePu:
		return "PU"
	default:
		return "UNKNOWN"
	}
}

// ResourceVector is the {cpu_cores, ram_cap} shape spec.md §3 requires for
// capacity and available-resources fields. CPU is expressed in millicores,
// RAM in bytes.
type ResourceVector struct {
	CPUCores int64
	RAMCap   int64
}

func (v ResourceVector) Sub(o ResourceVector) ResourceVector {
	return ResourceVector{CPUCores: v.CPUCores - o.CPUCores, RAMCap: v.RAMCap - o.RAMCap}
}

func (v ResourceVector) Scale(n int64) ResourceVector {
	return ResourceVector{CPUCores: v.CPUCores * n, RAMCap: v.RAMCap * n}
}

func (v ResourceVector) LessOrEqual(o ResourceVector) bool {
	return v.CPUCores <= o.CPUCores && v.RAMCap <= o.RAMCap
}

// ResourceDescriptor is the per-node record from spec.md §3.
type ResourceDescriptor struct {
	UUID     ResourceID
	Type     ResourceType
	FriendlyName string
	ParentID ResourceID
	HasParent bool

	ResourceCapacity  ResourceVector
	AvailableResources ResourceVector

	NumRunningTasksBelow uint64
	NumSlotsBelow        uint64
	// MaxPods is the admission ceiling for a machine-scoped resource; it is
	// zero (and meaningless) for non-machine nodes.
	MaxPods uint64

	CurrentRunningTasks map[TaskID]struct{}

	Labels map[string]string
}

// ResourceTopologyNodeDescriptor is one node plus its children, used when
// bulk-adding or bulk-removing a subtree (spec.md §4.1).
type ResourceTopologyNodeDescriptor struct {
	ResourceDesc *ResourceDescriptor
	Children     []*ResourceTopologyNodeDescriptor
}

type TaskState int

const (
	TaskCreated TaskState = iota + 1
	TaskRunnable
	TaskRunning
	TaskCompleted
	TaskFailed
)

// TaskDescriptor is the per-task record from spec.md §3.
type TaskDescriptor struct {
	UID       TaskID
	JobID     JobID
	Namespace string
	State     TaskState

	ResourceRequest ResourceVector

	Labels          map[string]string
	LabelSelectors  []LabelSelectorRequirement

	// Affinity is nil when the task has no affinity spec at all.
	Affinity *v1.Affinity

	// ScheduledToResource is only meaningful while State == TaskRunning.
	ScheduledToResource ResourceID
	HasScheduledResource bool
}

// LabelSelectorRequirement mirrors k8s.io/apimachinery's selector
// requirement shape (key, operator, values) as a local struct whose
// operator type is reused directly from k8s.io/api, matching how
// armadaproject-armada represents the same concept in
// internal/scheduler/kubernetesobjects/affinity.
type LabelSelectorRequirement struct {
	Key      string
	Operator v1.NodeSelectorOperator
	Values   []string
}

type JobState int

const (
	JobCreated JobState = iota + 1
	JobRunning
	JobCompleted
)

type JobDescriptor struct {
	UID   JobID
	State JobState
}

type SchedulingDeltaType int

const (
	DeltaPlace SchedulingDeltaType = iota + 1
	DeltaPreempt
	DeltaMigrate
	DeltaNoop
)

// SchedulingDelta is the output of translating a computed flow assignment
// into a task->machine binding (spec.md §1's "translated into task→machine
// bindings"). It is produced by the round orchestrator, not the cost model
// itself, but declared here alongside the other wire-adjacent shapes.
type SchedulingDelta struct {
	Type       SchedulingDeltaType
	TaskID     TaskID
	ResourceID ResourceID
}
