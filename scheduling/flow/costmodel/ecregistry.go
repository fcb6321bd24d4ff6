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
	"github.com/flowsched/flowsched/pkg/util"
)

// EquivClassRegistry is component C3: it assigns and memoises EC ids for
// tasks (by request signature or affinity-hashed job) and for machines
// (one EC per admission slot).
//
// All operations are amortised O(1) hash-table ops. Ambiguous or duplicate
// inserts are silently idempotent, matching the signature policy: two
// tasks with the same request/selector signature, or two affinity-bearing
// tasks of the same job, always land on the same task-EC.
type EquivClassRegistry struct {
	mu sync.Mutex

	taskECs   map[types.TaskID][]types.EquivClass
	ecRecords map[types.EquivClass]ecRecord
	ecRefs    map[types.EquivClass]map[types.TaskID]struct{}

	machineSlots map[types.ResourceID][]types.EquivClass
	ecToSlot     map[types.EquivClass]machineEC
}

// NewEquivClassRegistry returns an empty registry.
func NewEquivClassRegistry() *EquivClassRegistry {
	return &EquivClassRegistry{
		taskECs:      make(map[types.TaskID][]types.EquivClass),
		ecRecords:    make(map[types.EquivClass]ecRecord),
		ecRefs:       make(map[types.EquivClass]map[types.TaskID]struct{}),
		machineSlots: make(map[types.ResourceID][]types.EquivClass),
		ecToSlot:     make(map[types.EquivClass]machineEC),
	}
}

func hasAffinitySpec(a *types.TaskDescriptor) bool {
	if a.Affinity == nil {
		return false
	}
	aff := a.Affinity
	return aff.NodeAffinity != nil || aff.PodAffinity != nil || aff.PodAntiAffinity != nil
}

// taskSignature implements the signature policy of §4.3: affinity-bearing
// tasks share a task-EC per job; else selectors are folded into the
// signature; else the signature is request-only.
func taskSignature(task *types.TaskDescriptor) types.EquivClass {
	switch {
	case hasAffinitySpec(task):
		return util.HashJobSignature(task.JobID)
	case len(task.LabelSelectors) > 0:
		return util.HashSelectorsAndRequestSignature(task.LabelSelectors, task.ResourceRequest)
	default:
		return util.HashRequestSignature(task.ResourceRequest)
	}
}

// TaskEquivClassesOf returns the task-ECs task belongs to, creating and
// memoising the representative record on first emission. Today this is
// always a single-element list (invariant: task_ec_of has length 1).
func (r *EquivClassRegistry) TaskEquivClassesOf(task *types.TaskDescriptor) []types.EquivClass {
	r.mu.Lock()
	defer r.mu.Unlock()

	ec := taskSignature(task)
	if _, ok := r.ecRecords[ec]; !ok {
		reqCopy := task.ResourceRequest
		taskCopy := *task
		r.ecRecords[ec] = ecRecord{request: reqCopy, representative: &taskCopy}
	}
	if r.ecRefs[ec] == nil {
		r.ecRefs[ec] = make(map[types.TaskID]struct{})
	}
	r.ecRefs[ec][task.UID] = struct{}{}

	ecs := []types.EquivClass{ec}
	r.taskECs[task.UID] = ecs
	return ecs
}

// RemoveTask drops task's membership from every task-EC it belonged to,
// destroying an EC once it has no remaining references. Best-effort:
// re-creation on a later AddTask is idempotent.
func (r *EquivClassRegistry) RemoveTask(taskID types.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ecs := r.taskECs[taskID]
	delete(r.taskECs, taskID)
	for _, ec := range ecs {
		refs := r.ecRefs[ec]
		delete(refs, taskID)
		if len(refs) == 0 {
			delete(r.ecRefs, ec)
			delete(r.ecRecords, ec)
		}
	}
}

// RepresentativeOf returns the pinned request vector and representative
// task descriptor for a task-EC.
func (r *EquivClassRegistry) RepresentativeOf(ec types.EquivClass) (ecRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.ecRecords[ec]
	if !ok {
		return ecRecord{}, ErrMissingRegistryEntry
	}
	return rec, nil
}

// AddMachine pre-allocates the [0, maxPods) range of machine-ECs for
// machineID, returning the newly created ECs in slot order.
func (r *EquivClassRegistry) AddMachine(machineID types.ResourceID, maxPods uint64) []types.EquivClass {
	r.mu.Lock()
	defer r.mu.Unlock()

	ecs := make([]types.EquivClass, 0, maxPods)
	for slot := uint64(0); slot < maxPods; slot++ {
		ec := util.HashMachineSlotSignature(machineID, slot)
		r.ecToSlot[ec] = machineEC{machineID: machineID, slot: slot}
		ecs = append(ecs, ec)
	}
	r.machineSlots[machineID] = ecs
	return ecs
}

// RemoveMachine discards machineID's machine-ECs. Combined with a prior
// AddMachine, the registry returns to its earlier bitwise state (the
// round-trip invariant of §8).
func (r *EquivClassRegistry) RemoveMachine(machineID types.ResourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ec := range r.machineSlots[machineID] {
		delete(r.ecToSlot, ec)
	}
	delete(r.machineSlots, machineID)
}

// MachineECsOf returns the pre-allocated machine-ECs for machineID in slot
// order.
func (r *EquivClassRegistry) MachineECsOf(machineID types.ResourceID) []types.EquivClass {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.EquivClass(nil), r.machineSlots[machineID]...)
}

// MachineECOf resolves a machine-EC back to its owning machine and slot.
func (r *EquivClassRegistry) MachineECOf(ec types.EquivClass) (types.ResourceID, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	me, ok := r.ecToSlot[ec]
	if !ok {
		return types.NilResourceID, 0, ErrMissingRegistryEntry
	}
	return me.machineID, me.slot, nil
}

// SlotOf returns the admission-slot index of a machine-EC.
func (r *EquivClassRegistry) SlotOf(ec types.EquivClass) (uint64, error) {
	_, slot, err := r.MachineECOf(ec)
	return slot, err
}

// IsMachineEC reports whether ec was allocated by AddMachine.
func (r *EquivClassRegistry) IsMachineEC(ec types.EquivClass) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ecToSlot[ec]
	return ok
}
