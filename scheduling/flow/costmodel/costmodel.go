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
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flowsched/flowsched/pkg/types"
	"github.com/flowsched/flowsched/scheduling/flow/labelindex"
	"github.com/flowsched/flowsched/scheduling/flow/topology"
)

// Model is the CPU/memory cost model (component C6): the single type that
// implements the CostModel interface, delegating equivalence-class
// bookkeeping to EquivClassRegistry, feasibility to ConstraintEvaluator,
// soft-preference normalisation to PriorityScorer, and utilisation
// refresh to StatsAggregator.
//
// A Model is single-threaded within one scheduling round (see spec §5);
// the mutex below serialises the round-mutating calls
// (AddMachine/RemoveMachine/AddTask/RemoveTask) with one another. Pricing,
// preference and stats queries do not take it, so those mutations must not
// run concurrently with a round in progress.
type Model struct {
	mu sync.Mutex

	cfg Config

	topology    *topology.Mirror
	taskMap     *types.TaskMap
	jobMap      *types.JobMap
	ecRegistry  *EquivClassRegistry
	constraints *ConstraintEvaluator
	labels      *labelindex.Index
	scorer      *PriorityScorer
	stats       *StatsAggregator

	// infinity_ grows dynamically: any flattened cost that would meet or
	// exceed it bumps it to cost+1, per invariant 5.
	infinity int64

	log *logrus.Entry
}

// New builds a cost model wired to the given shared state. taskMap and
// jobMap are owned by the orchestrator; the model only reads them except
// through AddTask/RemoveTask, which mutate taskMap on the caller's behalf.
func New(t *topology.Mirror, taskMap *types.TaskMap, jobMap *types.JobMap, kb KnowledgeBase, opts ...Option) *Model {
	cfg := NewConfig(opts...)
	scorer := NewPriorityScorer(cfg.Omega)
	labels := labelindex.New()
	return &Model{
		cfg:         cfg,
		topology:    t,
		taskMap:     taskMap,
		jobMap:      jobMap,
		ecRegistry:  NewEquivClassRegistry(),
		constraints: NewConstraintEvaluator(taskMap, scorer, labels),
		labels:      labels,
		scorer:      scorer,
		stats:       NewStatsAggregator(t, kb, scorer),
		infinity:    cfg.Omega*4 + 1,
		log:         logrus.WithField("component", "costmodel"),
	}
}

func (m *Model) bumpInfinity(cost int64) {
	if cost >= m.infinity {
		m.infinity = cost + 1
	}
}

// TaskToUnscheduledAgg implements CostModel.
func (m *Model) TaskToUnscheduledAgg(taskID types.TaskID) (ArcDescriptor, error) {
	if !m.taskMap.ContainsKey(taskID) {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	return ArcDescriptor{Cost: OmegaTask, Capacity: 1}, nil
}

// UnscheduledAggToSink implements CostModel.
func (m *Model) UnscheduledAggToSink(jobID types.JobID) (ArcDescriptor, error) {
	if m.jobMap.FindPtrOrNull(jobID) == nil {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	return ArcDescriptor{Cost: 0, Capacity: 1}, nil
}

// TaskToResourceNode implements CostModel. Direct task-to-resource pins are
// reserved for future use; GetTaskPreferenceArcs is always empty today, so
// this arc is always inadmissible.
func (m *Model) TaskToResourceNode(taskID types.TaskID, resID types.ResourceID) (ArcDescriptor, error) {
	if !m.taskMap.ContainsKey(taskID) {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	if _, err := m.topology.Find(resID); err != nil {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	return ArcDescriptor{Cost: 0, Capacity: 0}, nil
}

func (m *Model) capacityFromChildToParent(child *types.ResourceDescriptor) uint64 {
	if child.NumSlotsBelow > 0 {
		return child.NumSlotsBelow
	}
	if child.MaxPods > 0 {
		return m.cfg.EffectiveSlots(child.MaxPods)
	}
	return 1
}

// ResourceNodeToParent implements CostModel.
func (m *Model) ResourceNodeToParent(childID, parentID types.ResourceID) (ArcDescriptor, error) {
	child, err := m.topology.Find(childID)
	if err != nil {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	if _, err := m.topology.Find(parentID); err != nil {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	return ArcDescriptor{Cost: 0, Capacity: m.capacityFromChildToParent(child)}, nil
}

// LeafToSink implements CostModel.
func (m *Model) LeafToSink(resID types.ResourceID) (ArcDescriptor, error) {
	machineID, err := m.topology.MachineOf(resID)
	if err != nil {
		return ArcDescriptor{}, ErrOrphanNonMachine
	}
	machine, err := m.topology.Find(machineID)
	if err != nil {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	return ArcDescriptor{Cost: 0, Capacity: m.cfg.EffectiveSlots(machine.MaxPods)}, nil
}

// TaskContinuation implements CostModel. Continuation cost computation is a
// documented non-goal; this always returns the fixed placeholder arc.
func (m *Model) TaskContinuation(taskID types.TaskID) (ArcDescriptor, error) {
	if !m.taskMap.ContainsKey(taskID) {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	return ArcDescriptor{Cost: 0, Capacity: 1}, nil
}

// TaskPreemption implements CostModel. Preemption cost computation is a
// documented non-goal; this always returns the fixed placeholder arc.
func (m *Model) TaskPreemption(taskID types.TaskID) (ArcDescriptor, error) {
	if !m.taskMap.ContainsKey(taskID) {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	return ArcDescriptor{Cost: 0, Capacity: 1}, nil
}

// TaskToEquivClass implements CostModel.
func (m *Model) TaskToEquivClass(taskID types.TaskID, ec types.EquivClass) (ArcDescriptor, error) {
	if !m.taskMap.ContainsKey(taskID) {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	if _, err := m.ecRegistry.RepresentativeOf(ec); err != nil {
		return ArcDescriptor{}, err
	}
	return ArcDescriptor{Cost: 0, Capacity: 1}, nil
}

// EquivClassToEquivClass implements CostModel: the pricing workhorse of
// §4.6's task-EC -> machine-EC table.
func (m *Model) EquivClassToEquivClass(ec1, ec2 types.EquivClass) (ArcDescriptor, error) {
	rec, err := m.ecRegistry.RepresentativeOf(ec1)
	if err != nil {
		return ArcDescriptor{}, err
	}
	machineID, slot, err := m.ecRegistry.MachineECOf(ec2)
	if err != nil {
		return ArcDescriptor{}, err
	}
	machine, err := m.topology.Find(machineID)
	if err != nil {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}

	needed := rec.request.Scale(int64(slot))
	if machine.AvailableResources.CPUCores < needed.CPUCores || machine.AvailableResources.RAMCap < needed.RAMCap {
		return ArcDescriptor{Cost: 0, Capacity: 0}, nil
	}

	post := machine.AvailableResources.Sub(needed)
	cap := machine.ResourceCapacity
	omega := float64(m.cfg.Omega)

	cpuFrac := fracUsed(cap.CPUCores, post.CPUCores)
	ramFrac := fracUsed(cap.RAMCap, post.RAMCap)

	cpuMemCost := int64(((cpuFrac * omega) + (ramFrac * omega)) / 2)

	mean := (cpuFrac + ramFrac) / 2
	variance := (sq(cpuFrac-mean) + sq(ramFrac-mean)) / 2
	balancedCost := int64(variance * omega)

	nodeSoft := m.cfg.Omega - m.scorer.NormalizedNodeAffinity(ec1, machineID)
	podSoft := m.cfg.Omega - m.scorer.NormalizedPodAffinity(ec1, machineID)

	cv := CostVector{
		CPUMemCost:       cpuMemCost,
		BalancedResCost:  balancedCost,
		NodeAffinitySoft: nodeSoft,
		PodAffinitySoft:  podSoft,
	}
	flat := cv.Flatten()
	m.bumpInfinity(flat)

	return ArcDescriptor{Cost: flat, Capacity: 1}, nil
}

func fracUsed(capacity, available int64) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(capacity-available) / float64(capacity)
}

func sq(x float64) float64 { return x * x }

// EquivClassToResourceNode implements CostModel.
func (m *Model) EquivClassToResourceNode(ec types.EquivClass, resID types.ResourceID) (ArcDescriptor, error) {
	machineID, _, err := m.ecRegistry.MachineECOf(ec)
	if err != nil {
		return ArcDescriptor{}, err
	}
	if machineID != resID {
		return ArcDescriptor{}, ErrMissingRegistryEntry
	}
	return ArcDescriptor{Cost: 0, Capacity: 1}, nil
}

// GetTaskEquivClasses implements CostModel.
func (m *Model) GetTaskEquivClasses(taskID types.TaskID) ([]types.EquivClass, error) {
	task := m.taskMap.FindPtrOrNull(taskID)
	if task == nil {
		return nil, ErrMissingRegistryEntry
	}
	return m.ecRegistry.TaskEquivClassesOf(task), nil
}

// GetTaskPreferenceArcs implements CostModel. Always empty: all routing is
// via equivalence classes today.
func (m *Model) GetTaskPreferenceArcs(taskID types.TaskID) ([]types.ResourceID, error) {
	if !m.taskMap.ContainsKey(taskID) {
		return nil, ErrMissingRegistryEntry
	}
	return nil, nil
}

// GetOutgoingEquivClassPrefArcs implements CostModel: for task-EC ec,
// walks every known machine, filters by hard constraints, scores soft
// preferences, and returns the machine-ECs ec may route through this
// round, following the ordering laid out in §4.6.
func (m *Model) GetOutgoingEquivClassPrefArcs(ec types.EquivClass) ([]types.EquivClass, error) {
	// Clearing the whole scorer (not just ec's slice) is a deliberate,
	// preserved-behaviour choice; see the Open Question decision recorded
	// in DESIGN.md.
	m.scorer.Reset()

	rec, err := m.ecRegistry.RepresentativeOf(ec)
	if err != nil {
		return nil, err
	}
	repTask := rec.representative

	var out []types.EquivClass
	for _, machine := range m.topology.Machines() {
		nodeOK, err := m.constraints.SatisfiesNodeSideHard(repTask, machine)
		if err != nil {
			return nil, err
		}
		if !nodeOK {
			continue
		}
		m.constraints.ScoreNodeAffinitySoft(repTask, machine, ec)

		podOK, err := m.constraints.SatisfiesPodSideHard(repTask, machine)
		if err != nil {
			return nil, err
		}
		if !podOK {
			continue
		}
		m.constraints.ScorePodAffinitySoft(repTask, machine, ec)

		n := admissibleSlots(machine, rec.request, m.cfg.EffectiveSlots(machine.MaxPods))
		machineECs := m.ecRegistry.MachineECsOf(machine.UUID)
		for slot := uint64(0); slot < n && slot < uint64(len(machineECs)); slot++ {
			out = append(out, machineECs[slot])
		}
	}
	return out, nil
}

// admissibleSlots returns the largest N <= maxSlots such that
// N * req <= machine.AvailableResources.
func admissibleSlots(machine *types.ResourceDescriptor, req types.ResourceVector, maxSlots uint64) uint64 {
	var n uint64
	for n < maxSlots {
		needed := req.Scale(int64(n + 1))
		if !needed.LessOrEqual(machine.AvailableResources) {
			break
		}
		n++
	}
	return n
}

// GetEquivClassToEquivClassesArcs implements CostModel. Always empty: this
// cost model routes task-ECs directly to machine-ECs, never EC chains.
func (m *Model) GetEquivClassToEquivClassesArcs(ec types.EquivClass) ([]types.EquivClass, error) {
	if _, err := m.ecRegistry.RepresentativeOf(ec); err == nil {
		return nil, nil
	}
	if m.ecRegistry.IsMachineEC(ec) {
		return nil, nil
	}
	return nil, ErrMissingRegistryEntry
}

// AddMachine implements CostModel: registers subtree in the topology
// mirror and allocates its machine-ECs.
func (m *Model) AddMachine(subtree *types.ResourceTopologyNodeDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.topology.AddSubtree(subtree); err != nil {
		return err
	}
	m.ecRegistry.AddMachine(subtree.ResourceDesc.UUID, subtree.ResourceDesc.MaxPods)
	return nil
}

// RemoveMachine implements CostModel.
func (m *Model) RemoveMachine(resID types.ResourceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ecRegistry.RemoveMachine(resID)
	m.topology.RemoveSubtree(resID)
	return nil
}

// AddTask implements CostModel.
func (m *Model) AddTask(task *types.TaskDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskMap.InsertOrUpdate(task.UID, task)
	m.constraints.IndexTask(task)
	return nil
}

// RemoveTask implements CostModel.
func (m *Model) RemoveTask(taskID types.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task := m.taskMap.FindPtrOrNull(taskID); task != nil {
		m.constraints.UnindexTask(task)
	}
	m.ecRegistry.RemoveTask(taskID)
	m.taskMap.Delete(taskID)
	return nil
}

// PrepareStats implements CostModel.
func (m *Model) PrepareStats(nodeID types.ResourceID) error {
	return m.stats.PrepareStats(nodeID)
}

// GatherStats implements CostModel.
func (m *Model) GatherStats(accumulatorID, childID types.ResourceID) error {
	return m.stats.GatherStats(accumulatorID, childID)
}

// UpdateStats implements CostModel.
func (m *Model) UpdateStats(accumulatorID, childID types.ResourceID) error {
	return m.stats.UpdateStats(accumulatorID, childID)
}

// ResolveMachineEC resolves a machine-EC back to its owning machine and
// admission-slot index. It is not part of the CostModel interface; the
// orchestrator and tests use it to translate a machine-EC id returned by
// GetOutgoingEquivClassPrefArcs back into a concrete placement target.
func (m *Model) ResolveMachineEC(ec types.EquivClass) (types.ResourceID, uint64, error) {
	return m.ecRegistry.MachineECOf(ec)
}

// MachineEquivClasses returns machineID's pre-allocated machine-ECs in
// slot order. Not part of the CostModel interface; exposed for tests and
// orchestrator introspection.
func (m *Model) MachineEquivClasses(machineID types.ResourceID) []types.EquivClass {
	return m.ecRegistry.MachineECsOf(machineID)
}

// DebugInfo implements CostModel.
func (m *Model) DebugInfo() string {
	return fmt.Sprintf("costmodel: infinity=%d omega=%d", m.infinity, m.cfg.Omega)
}
