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
	"testing"

	v1 "k8s.io/api/core/v1"

	"github.com/flowsched/flowsched/pkg/types"
)

func TestTaskEquivClassesRequestOnlySignature(t *testing.T) {
	r := NewEquivClassRegistry()
	t1 := &types.TaskDescriptor{UID: 1, ResourceRequest: types.ResourceVector{CPUCores: 1000, RAMCap: 1000}}
	t2 := &types.TaskDescriptor{UID: 2, ResourceRequest: types.ResourceVector{CPUCores: 1000, RAMCap: 1000}}
	t3 := &types.TaskDescriptor{UID: 3, ResourceRequest: types.ResourceVector{CPUCores: 2000, RAMCap: 1000}}

	ec1 := r.TaskEquivClassesOf(t1)
	ec2 := r.TaskEquivClassesOf(t2)
	ec3 := r.TaskEquivClassesOf(t3)

	if len(ec1) != 1 || len(ec2) != 1 || len(ec3) != 1 {
		t.Fatalf("expected exactly one task-EC per task")
	}
	if ec1[0] != ec2[0] {
		t.Errorf("tasks with identical requests landed on different task-ECs: %v vs %v", ec1[0], ec2[0])
	}
	if ec1[0] == ec3[0] {
		t.Errorf("tasks with different requests landed on the same task-EC: %v", ec1[0])
	}
}

func TestTaskEquivClassesAffinityGroupsByJob(t *testing.T) {
	r := NewEquivClassRegistry()
	aff := &v1.Affinity{NodeAffinity: &v1.NodeAffinity{}}
	t1 := &types.TaskDescriptor{UID: 1, JobID: 100, ResourceRequest: types.ResourceVector{CPUCores: 1000}, Affinity: aff}
	t2 := &types.TaskDescriptor{UID: 2, JobID: 100, ResourceRequest: types.ResourceVector{CPUCores: 5000}, Affinity: aff}

	ec1 := r.TaskEquivClassesOf(t1)
	ec2 := r.TaskEquivClassesOf(t2)
	if ec1[0] != ec2[0] {
		t.Errorf("affinity-bearing tasks in the same job landed on different task-ECs: %v vs %v", ec1[0], ec2[0])
	}
}

func TestRemoveTaskDestroysEmptyEquivClass(t *testing.T) {
	r := NewEquivClassRegistry()
	task := &types.TaskDescriptor{UID: 1, ResourceRequest: types.ResourceVector{CPUCores: 1000}}
	ecs := r.TaskEquivClassesOf(task)
	ec := ecs[0]

	if _, err := r.RepresentativeOf(ec); err != nil {
		t.Fatalf("RepresentativeOf right after creation: %v", err)
	}

	r.RemoveTask(task.UID)

	if _, err := r.RepresentativeOf(ec); err != ErrMissingRegistryEntry {
		t.Errorf("RepresentativeOf after last task removed = %v, want ErrMissingRegistryEntry", err)
	}
}

func TestRemoveTaskKeepsSharedEquivClassAlive(t *testing.T) {
	r := NewEquivClassRegistry()
	t1 := &types.TaskDescriptor{UID: 1, ResourceRequest: types.ResourceVector{CPUCores: 1000}}
	t2 := &types.TaskDescriptor{UID: 2, ResourceRequest: types.ResourceVector{CPUCores: 1000}}
	ecs := r.TaskEquivClassesOf(t1)
	r.TaskEquivClassesOf(t2)
	ec := ecs[0]

	r.RemoveTask(t1.UID)

	if _, err := r.RepresentativeOf(ec); err != nil {
		t.Errorf("RepresentativeOf after removing one of two sharing tasks: %v, want nil (t2 still refs it)", err)
	}
}

func TestAddMachineAllocatesSlotsInOrder(t *testing.T) {
	r := NewEquivClassRegistry()
	machineID := types.NewResourceID()
	ecs := r.AddMachine(machineID, 3)
	if len(ecs) != 3 {
		t.Fatalf("AddMachine(maxPods=3) returned %d ECs, want 3", len(ecs))
	}
	for slot, ec := range ecs {
		gotMachine, gotSlot, err := r.MachineECOf(ec)
		if err != nil {
			t.Fatalf("MachineECOf(slot %d): %v", slot, err)
		}
		if gotMachine != machineID || gotSlot != uint64(slot) {
			t.Errorf("MachineECOf(slot %d) = (%v, %d), want (%v, %d)", slot, gotMachine, gotSlot, machineID, slot)
		}
	}
}

func TestAddMachineZeroMaxPodsAllocatesNoSlots(t *testing.T) {
	r := NewEquivClassRegistry()
	ecs := r.AddMachine(types.NewResourceID(), 0)
	if len(ecs) != 0 {
		t.Errorf("AddMachine(maxPods=0) = %d ECs, want 0", len(ecs))
	}
}

func TestRemoveMachineDropsAllSlots(t *testing.T) {
	r := NewEquivClassRegistry()
	machineID := types.NewResourceID()
	ecs := r.AddMachine(machineID, 2)

	r.RemoveMachine(machineID)

	for _, ec := range ecs {
		if r.IsMachineEC(ec) {
			t.Errorf("EC %v still registered as a machine-EC after RemoveMachine", ec)
		}
	}
	if got := r.MachineECsOf(machineID); len(got) != 0 {
		t.Errorf("MachineECsOf after RemoveMachine = %v, want empty", got)
	}
}

func TestAddMachineIsDeterministicAcrossReAdd(t *testing.T) {
	r := NewEquivClassRegistry()
	machineID := types.NewResourceID()
	first := r.AddMachine(machineID, 2)
	r.RemoveMachine(machineID)
	second := r.AddMachine(machineID, 2)

	for i := range first {
		if first[i] != second[i] {
			t.Errorf("slot %d EC changed across remove/re-add: %v vs %v", i, first[i], second[i])
		}
	}
}
