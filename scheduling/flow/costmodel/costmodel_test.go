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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/flowsched/flowsched/pkg/types"
	"github.com/flowsched/flowsched/scheduling/flow/topology"
)

func newMachine(t *testing.T, capacity, available types.ResourceVector, maxPods uint64, labels map[string]string) *types.ResourceTopologyNodeDescriptor {
	t.Helper()
	return &types.ResourceTopologyNodeDescriptor{
		ResourceDesc: &types.ResourceDescriptor{
			UUID:               types.NewResourceID(),
			Type:               types.ResourceMachine,
			FriendlyName:       "machine",
			ResourceCapacity:   capacity,
			AvailableResources: available,
			MaxPods:            maxPods,
			Labels:             labels,
		},
	}
}

func newModel() (*Model, *types.TaskMap, *types.JobMap) {
	taskMap := types.NewTaskMap()
	jobMap := types.NewJobMap()
	m := New(topology.New(), taskMap, jobMap, NewInMemoryKnowledgeBase())
	return m, taskMap, jobMap
}

func mustSchedule(t *testing.T, m *Model, ec types.EquivClass, machineID types.ResourceID) ArcDescriptor {
	t.Helper()
	slots := m.MachineEquivClasses(machineID)
	if len(slots) == 0 {
		t.Fatalf("machine %v has no allocated slots", machineID)
	}
	arc, err := m.EquivClassToEquivClass(ec, slots[0])
	if err != nil {
		t.Fatalf("EquivClassToEquivClass: %v", err)
	}
	return arc
}

// S1 — least-requested dominates.
func TestLeastRequestedDominates(t *testing.T) {
	m, taskMap, _ := newModel()

	a := newMachine(t, types.ResourceVector{CPUCores: 8000, RAMCap: 8 << 30}, types.ResourceVector{CPUCores: 8000, RAMCap: 8 << 30}, 1, nil)
	b := newMachine(t, types.ResourceVector{CPUCores: 8000, RAMCap: 8 << 30}, types.ResourceVector{CPUCores: 4000, RAMCap: 4 << 30}, 1, nil)
	if err := m.AddMachine(a); err != nil {
		t.Fatalf("AddMachine(a): %v", err)
	}
	if err := m.AddMachine(b); err != nil {
		t.Fatalf("AddMachine(b): %v", err)
	}

	task := &types.TaskDescriptor{UID: 1, ResourceRequest: types.ResourceVector{CPUCores: 1000, RAMCap: 1 << 30}}
	taskMap.InsertOrUpdate(task.UID, task)
	ecs, err := m.GetTaskEquivClasses(task.UID)
	if err != nil {
		t.Fatalf("GetTaskEquivClasses: %v", err)
	}
	ec := ecs[0]

	if _, err := m.GetOutgoingEquivClassPrefArcs(ec); err != nil {
		t.Fatalf("GetOutgoingEquivClassPrefArcs: %v", err)
	}

	arcA := mustSchedule(t, m, ec, a.ResourceDesc.UUID)
	arcB := mustSchedule(t, m, ec, b.ResourceDesc.UUID)

	if arcA.Cost >= arcB.Cost {
		t.Errorf("cost(A)=%d, cost(B)=%d; want cost(A) < cost(B) (A has more headroom)", arcA.Cost, arcB.Cost)
	}
}

// S2 — balanced-allocation breaks a tie on least-requested.
func TestBalancedAllocationBreaksTie(t *testing.T) {
	m, taskMap, _ := newModel()

	// Both machines end up with the same total post-admission utilisation
	// (0.5 cpu + 0.5 ram averaged), but A is cpu-skewed and B is balanced.
	skewed := newMachine(t, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, types.ResourceVector{CPUCores: 0, RAMCap: 1000}, 1, nil)
	balanced := newMachine(t, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, types.ResourceVector{CPUCores: 500, RAMCap: 500}, 1, nil)
	if err := m.AddMachine(skewed); err != nil {
		t.Fatalf("AddMachine(skewed): %v", err)
	}
	if err := m.AddMachine(balanced); err != nil {
		t.Fatalf("AddMachine(balanced): %v", err)
	}

	task := &types.TaskDescriptor{UID: 1, ResourceRequest: types.ResourceVector{}}
	taskMap.InsertOrUpdate(task.UID, task)
	ecs, _ := m.GetTaskEquivClasses(task.UID)
	ec := ecs[0]
	if _, err := m.GetOutgoingEquivClassPrefArcs(ec); err != nil {
		t.Fatalf("GetOutgoingEquivClassPrefArcs: %v", err)
	}

	arcSkewed := mustSchedule(t, m, ec, skewed.ResourceDesc.UUID)
	arcBalanced := mustSchedule(t, m, ec, balanced.ResourceDesc.UUID)

	if arcBalanced.Cost >= arcSkewed.Cost {
		t.Errorf("cost(balanced)=%d, cost(skewed)=%d; want cost(balanced) < cost(skewed)", arcBalanced.Cost, arcSkewed.Cost)
	}
}

// S3 — hard pod anti-affinity excludes the offending machine.
func TestHardPodAntiAffinityExcludesMachine(t *testing.T) {
	m, taskMap, _ := newModel()

	machine := newMachine(t, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, 1, nil)
	if err := m.AddMachine(machine); err != nil {
		t.Fatalf("AddMachine: %v", err)
	}

	running := &types.TaskDescriptor{
		UID:       10,
		Namespace: "default",
		State:     types.TaskRunning,
		Labels:    map[string]string{"app": "X"},
	}
	if err := m.AddTask(running); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	machine.ResourceDesc.CurrentRunningTasks = map[types.TaskID]struct{}{running.UID: {}}

	task := &types.TaskDescriptor{
		UID:       1,
		Namespace: "default",
		Affinity: &v1.Affinity{
			PodAntiAffinity: &v1.PodAntiAffinity{
				RequiredDuringSchedulingIgnoredDuringExecution: []v1.PodAffinityTerm{
					{
						LabelSelector: &metav1.LabelSelector{
							MatchExpressions: []metav1.LabelSelectorRequirement{
								{Key: "app", Operator: metav1.LabelSelectorOpIn, Values: []string{"X"}},
							},
						},
					},
				},
			},
		},
	}
	taskMap.InsertOrUpdate(task.UID, task)
	ecs, _ := m.GetTaskEquivClasses(task.UID)
	ec := ecs[0]

	arcs, err := m.GetOutgoingEquivClassPrefArcs(ec)
	if err != nil {
		t.Fatalf("GetOutgoingEquivClassPrefArcs: %v", err)
	}
	if len(arcs) != 0 {
		t.Errorf("GetOutgoingEquivClassPrefArcs = %v, want empty (machine excluded by anti-affinity)", arcs)
	}
}

// S4 — soft node-affinity normalisation values.
func TestSoftNodeAffinityNormalisation(t *testing.T) {
	m, taskMap, _ := newModel()

	a := newMachine(t, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, 1, map[string]string{"zone": "a"})
	b := newMachine(t, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, 1, map[string]string{"zone": "b", "rack": "r1"})
	if err := m.AddMachine(a); err != nil {
		t.Fatalf("AddMachine(a): %v", err)
	}
	if err := m.AddMachine(b); err != nil {
		t.Fatalf("AddMachine(b): %v", err)
	}

	task := &types.TaskDescriptor{
		UID: 1,
		Affinity: &v1.Affinity{
			NodeAffinity: &v1.NodeAffinity{
				PreferredDuringSchedulingIgnoredDuringExecution: []v1.PreferredSchedulingTerm{
					{
						Weight: 20,
						Preference: v1.NodeSelectorTerm{
							MatchExpressions: []v1.NodeSelectorRequirement{
								{Key: "zone", Operator: v1.NodeSelectorOpExists},
							},
						},
					},
					{
						Weight: 60,
						Preference: v1.NodeSelectorTerm{
							MatchExpressions: []v1.NodeSelectorRequirement{
								{Key: "rack", Operator: v1.NodeSelectorOpExists},
							},
						},
					},
				},
			},
		},
	}
	taskMap.InsertOrUpdate(task.UID, task)
	ecs, _ := m.GetTaskEquivClasses(task.UID)
	ec := ecs[0]
	if _, err := m.GetOutgoingEquivClassPrefArcs(ec); err != nil {
		t.Fatalf("GetOutgoingEquivClassPrefArcs: %v", err)
	}

	arcA := mustSchedule(t, m, ec, a.ResourceDesc.UUID)
	arcB := mustSchedule(t, m, ec, b.ResourceDesc.UUID)

	// A matches only the weight-20 term (raw=20); B matches both (raw=80).
	// node_affinity_soft_cost(A) = 1000 - (20/80)*1000 = 750.
	// node_affinity_soft_cost(B) = 0.
	// Both machines are otherwise identical, so the arcs' full cost
	// differs only by this contribution.
	if got, want := arcA.Cost-arcB.Cost, int64(750); got != want {
		t.Errorf("cost(A)-cost(B) = %d, want %d", got, want)
	}
}

// S5 — admission staircase: non-decreasing costs across slots, staircase
// excludes slots beyond what the machine's available resources admit.
func TestAdmissionStaircase(t *testing.T) {
	m, taskMap, _ := newModel()

	machine := newMachine(t, types.ResourceVector{CPUCores: 4000, RAMCap: 4 << 30}, types.ResourceVector{CPUCores: 4000, RAMCap: 4 << 30}, 4, nil)
	if err := m.AddMachine(machine); err != nil {
		t.Fatalf("AddMachine: %v", err)
	}

	task := &types.TaskDescriptor{UID: 1, ResourceRequest: types.ResourceVector{CPUCores: 1000, RAMCap: 1 << 30}}
	taskMap.InsertOrUpdate(task.UID, task)
	ecs, _ := m.GetTaskEquivClasses(task.UID)
	ec := ecs[0]

	arcs, err := m.GetOutgoingEquivClassPrefArcs(ec)
	if err != nil {
		t.Fatalf("GetOutgoingEquivClassPrefArcs: %v", err)
	}
	if len(arcs) != 4 {
		t.Fatalf("GetOutgoingEquivClassPrefArcs = %d ECs, want 4", len(arcs))
	}

	prevCost := int64(-1)
	for i, mec := range arcs {
		arc, err := m.EquivClassToEquivClass(ec, mec)
		if err != nil {
			t.Fatalf("EquivClassToEquivClass(slot %d): %v", i, err)
		}
		if arc.Capacity != 1 {
			t.Errorf("slot %d capacity = %d, want 1", i, arc.Capacity)
		}
		if arc.Cost < prevCost {
			t.Errorf("slot %d cost %d < previous slot cost %d, want non-decreasing", i, arc.Cost, prevCost)
		}
		prevCost = arc.Cost
	}
}

func TestAdmissionStaircaseExcludesZeroMaxPods(t *testing.T) {
	m, taskMap, _ := newModel()

	machine := newMachine(t, types.ResourceVector{CPUCores: 4000, RAMCap: 4 << 30}, types.ResourceVector{CPUCores: 4000, RAMCap: 4 << 30}, 0, nil)
	if err := m.AddMachine(machine); err != nil {
		t.Fatalf("AddMachine: %v", err)
	}

	task := &types.TaskDescriptor{UID: 1, ResourceRequest: types.ResourceVector{CPUCores: 1000, RAMCap: 1 << 30}}
	taskMap.InsertOrUpdate(task.UID, task)
	ecs, _ := m.GetTaskEquivClasses(task.UID)
	ec := ecs[0]

	arcs, err := m.GetOutgoingEquivClassPrefArcs(ec)
	if err != nil {
		t.Fatalf("GetOutgoingEquivClassPrefArcs: %v", err)
	}
	if len(arcs) != 0 {
		t.Errorf("GetOutgoingEquivClassPrefArcs with max_pods=0 = %d ECs, want 0", len(arcs))
	}
}

// S6 — utilisation refresh via GatherStats.
func TestUtilisationRefresh(t *testing.T) {
	tp := topology.New()
	kb := NewInMemoryKnowledgeBase()
	taskMap := types.NewTaskMap()
	jobMap := types.NewJobMap()
	m := New(tp, taskMap, jobMap, kb)

	machineID := types.NewResourceID()
	pu := &types.ResourceTopologyNodeDescriptor{
		ResourceDesc: &types.ResourceDescriptor{
			UUID:         types.NewResourceID(),
			Type:         types.ResourcePu,
			FriendlyName: "PU #0",
		},
	}
	machine := &types.ResourceTopologyNodeDescriptor{
		ResourceDesc: &types.ResourceDescriptor{
			UUID:             machineID,
			Type:             types.ResourceMachine,
			FriendlyName:     "machine0",
			ResourceCapacity: types.ResourceVector{CPUCores: 1000, RAMCap: 1000},
			MaxPods:          1,
		},
		Children: []*types.ResourceTopologyNodeDescriptor{pu},
	}
	if err := m.AddMachine(machine); err != nil {
		t.Fatalf("AddMachine: %v", err)
	}

	kb.SetStats(machineID, MachineStats{
		CPUs: []CPUStats{{CPUCapacity: 1000, CPUUtilization: 0.5}},
	})

	if err := m.PrepareStats(machineID); err != nil {
		t.Fatalf("PrepareStats: %v", err)
	}
	if err := m.GatherStats(pu.ResourceDesc.UUID, types.NilResourceID); err != nil {
		t.Fatalf("GatherStats(pu): %v", err)
	}
	if err := m.GatherStats(machineID, pu.ResourceDesc.UUID); err != nil {
		t.Fatalf("GatherStats(machine, pu): %v", err)
	}

	if got, want := pu.ResourceDesc.AvailableResources.CPUCores, int64(500); got != want {
		t.Errorf("PU available cpu = %d, want %d", got, want)
	}
	if got, want := machine.ResourceDesc.AvailableResources.CPUCores, int64(500); got != want {
		t.Errorf("machine available cpu = %d, want %d", got, want)
	}
	if got, want := machine.ResourceDesc.NumSlotsBelow, machine.ResourceDesc.MaxPods; got != want {
		t.Errorf("machine num_slots_below = %d, want %d (== max_pods)", got, want)
	}
}

func TestAddRemoveMachineRoundTripsRegistry(t *testing.T) {
	m, _, _ := newModel()
	machine := newMachine(t, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, types.ResourceVector{CPUCores: 1000, RAMCap: 1000}, 2, nil)

	if err := m.AddMachine(machine); err != nil {
		t.Fatalf("AddMachine: %v", err)
	}
	before := m.MachineEquivClasses(machine.ResourceDesc.UUID)
	if len(before) != 2 {
		t.Fatalf("MachineEquivClasses after AddMachine = %d, want 2", len(before))
	}

	if err := m.RemoveMachine(machine.ResourceDesc.UUID); err != nil {
		t.Fatalf("RemoveMachine: %v", err)
	}
	if got := m.MachineEquivClasses(machine.ResourceDesc.UUID); len(got) != 0 {
		t.Errorf("MachineEquivClasses after RemoveMachine = %d, want 0", len(got))
	}

	if err := m.AddMachine(machine); err != nil {
		t.Fatalf("AddMachine (again): %v", err)
	}
	after := m.MachineEquivClasses(machine.ResourceDesc.UUID)
	if len(after) != 2 || after[0] != before[0] || after[1] != before[1] {
		t.Errorf("re-AddMachine produced different EC ids: before=%v after=%v (want deterministic hash-based ids)", before, after)
	}
}

func TestMissingRegistryEntryOnUnknownEC(t *testing.T) {
	m, _, _ := newModel()
	if _, err := m.EquivClassToEquivClass(types.EquivClass(1), types.EquivClass(2)); err != ErrMissingRegistryEntry {
		t.Errorf("EquivClassToEquivClass(unknown, unknown) error = %v, want ErrMissingRegistryEntry", err)
	}
}

func TestZeroCapacityWhenSlotExceedsAvailable(t *testing.T) {
	m, taskMap, _ := newModel()
	// A machine-EC's slot index is used directly as the pre-admission
	// multiplier (slot 0 needs zero already-occupied capacity, slot N
	// needs N*request already committed ahead of it), so slot 1 becomes
	// inadmissible only once one whole request's worth exceeds what's
	// available.
	machine := newMachine(t, types.ResourceVector{CPUCores: 700, RAMCap: 700}, types.ResourceVector{CPUCores: 600, RAMCap: 600}, 2, nil)
	if err := m.AddMachine(machine); err != nil {
		t.Fatalf("AddMachine: %v", err)
	}

	task := &types.TaskDescriptor{UID: 1, ResourceRequest: types.ResourceVector{CPUCores: 700, RAMCap: 700}}
	taskMap.InsertOrUpdate(task.UID, task)
	ecs, _ := m.GetTaskEquivClasses(task.UID)
	ec := ecs[0]

	slots := m.MachineEquivClasses(machine.ResourceDesc.UUID)
	arc, err := m.EquivClassToEquivClass(ec, slots[1])
	if err != nil {
		t.Fatalf("EquivClassToEquivClass: %v", err)
	}
	if arc.Capacity != 0 {
		t.Errorf("arc.Capacity = %d, want 0 (slot 1 needs one request's worth, exceeding the 600 available)", arc.Capacity)
	}
}
