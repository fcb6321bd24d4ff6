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
	"regexp"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/flowsched/flowsched/pkg/types"
	"github.com/flowsched/flowsched/scheduling/flow/topology"
)

var puFriendlyNameRe = regexp.MustCompile(`PU #(\d+)`)

// puIndexCacheSize bounds the friendly-name -> PU-index cache. Cluster
// topologies are finite and friendly names stable across rounds, so a
// modest cache absorbs the regex cost for every machine's PUs after the
// first round without needing to size it to the cluster.
const puIndexCacheSize = 4096

func parsePUIndex(friendlyName string) (int, error) {
	m := puFriendlyNameRe.FindStringSubmatch(friendlyName)
	if m == nil {
		return 0, errors.Errorf("costmodel: cannot parse PU index from friendly name %q", friendlyName)
	}
	return strconv.Atoi(m[1])
}

// StatsAggregator is component C7. It walks the resource tree once per
// round pulling the latest knowledge-base samples into PU and machine
// descriptors, and accumulating available capacity and task counts up the
// tree.
type StatsAggregator struct {
	topology *topology.Mirror
	kb       KnowledgeBase
	scorer   *PriorityScorer

	puIndexCache *lru.Cache
}

// NewStatsAggregator wires the aggregator to the shared topology mirror,
// knowledge base and priority scorer.
func NewStatsAggregator(t *topology.Mirror, kb KnowledgeBase, scorer *PriorityScorer) *StatsAggregator {
	cache, err := lru.New(puIndexCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// puIndexCacheSize never is.
		panic(err)
	}
	return &StatsAggregator{topology: t, kb: kb, scorer: scorer, puIndexCache: cache}
}

// puIndexOf resolves friendlyName to its PU ordinal, consulting the cache
// before falling back to parsePUIndex.
func (a *StatsAggregator) puIndexOf(friendlyName string) (int, error) {
	if v, ok := a.puIndexCache.Get(friendlyName); ok {
		return v.(int), nil
	}
	idx, err := parsePUIndex(friendlyName)
	if err != nil {
		return 0, err
	}
	a.puIndexCache.Add(friendlyName, idx)
	return idx, nil
}

// PrepareStats clears num_running_tasks_below, num_slots_below and
// available_resources on every resource node in the subtree rooted at
// rootID, and wipes the scorer's cached priority scores.
func (a *StatsAggregator) PrepareStats(rootID types.ResourceID) error {
	if _, err := a.topology.Find(rootID); err != nil {
		return errors.Wrap(ErrMissingRegistryEntry, err.Error())
	}
	a.topology.WalkPostOrder(rootID, func(child, parent *types.ResourceDescriptor) {
		child.NumRunningTasksBelow = 0
		child.NumSlotsBelow = 0
		child.AvailableResources = types.ResourceVector{}
	})
	a.scorer.Reset()
	return nil
}

// GatherStats folds childID's finalized stats into accumulatorID,
// dispatching on the accumulator's resource type per §4.7.
func (a *StatsAggregator) GatherStats(accumulatorID, childID types.ResourceID) error {
	accumulator, err := a.topology.Find(accumulatorID)
	if err != nil {
		return errors.Wrap(ErrMissingRegistryEntry, err.Error())
	}

	switch accumulator.Type {
	case types.ResourcePu:
		return a.gatherPUStats(accumulator)
	case types.ResourceMachine:
		return a.gatherMachineStats(accumulator, childID)
	default:
		return a.accumulateChild(accumulator, childID)
	}
}

func (a *StatsAggregator) gatherPUStats(pu *types.ResourceDescriptor) error {
	machineID, err := a.topology.MachineOf(pu.UUID)
	if err != nil {
		return ErrOrphanNonMachine
	}
	machine, err := a.topology.Find(machineID)
	if err != nil {
		return errors.Wrap(ErrMissingRegistryEntry, err.Error())
	}

	if stats, ok := a.kb.LatestStatsForMachine(machineID); ok {
		if idx, err := a.puIndexOf(pu.FriendlyName); err == nil && idx >= 0 && idx < len(stats.CPUs) {
			cs := stats.CPUs[idx]
			pu.AvailableResources.CPUCores = int64(float64(cs.CPUCapacity) * (1 - cs.CPUUtilization))
		}
		// else: friendly name didn't parse or no per-core sample present;
		// keep the last observed available vector for this PU.
	}
	// A missing sample entirely means "no update this round"; the PU keeps
	// whatever available_resources PrepareStats last left in place (which
	// was zeroed, so the very first round without a sample reports 0
	// available -- callers seed a knowledge base before the first round).

	pu.NumRunningTasksBelow = uint64(len(pu.CurrentRunningTasks))
	pu.NumSlotsBelow = machine.MaxPods
	return nil
}

func (a *StatsAggregator) gatherMachineStats(machine *types.ResourceDescriptor, childID types.ResourceID) error {
	if stats, ok := a.kb.LatestStatsForMachine(machine.UUID); ok {
		machine.AvailableResources.RAMCap = int64(float64(stats.MemCapacity) * (1 - stats.MemUtilization))
		// A fresh knowledge-base sample this round is the mirror's signal
		// that the machine is live; record it against the resource status
		// wrapped by the topology node rather than only the raw descriptor.
		if err := a.topology.Heartbeat(machine.UUID, uint64(time.Now().Unix())); err != nil {
			return errors.Wrap(ErrMissingRegistryEntry, err.Error())
		}
	}

	child, err := a.topology.Find(childID)
	if err != nil {
		return errors.Wrap(ErrMissingRegistryEntry, err.Error())
	}
	machine.AvailableResources.CPUCores += child.AvailableResources.CPUCores
	machine.NumRunningTasksBelow += child.NumRunningTasksBelow
	machine.NumSlotsBelow += child.NumSlotsBelow

	if machine.AvailableResources.CPUCores > machine.ResourceCapacity.CPUCores ||
		machine.AvailableResources.RAMCap > machine.ResourceCapacity.RAMCap {
		return ErrCapacityExceeded
	}
	return nil
}

// accumulateChild is the pass-through fold used for intermediate resource
// types (socket, NUMA node, coordinator) that the spec doesn't call out
// individually but that a deeper tree still needs summed correctly.
func (a *StatsAggregator) accumulateChild(accumulator *types.ResourceDescriptor, childID types.ResourceID) error {
	child, err := a.topology.Find(childID)
	if err != nil {
		return errors.Wrap(ErrMissingRegistryEntry, err.Error())
	}
	accumulator.AvailableResources.CPUCores += child.AvailableResources.CPUCores
	accumulator.AvailableResources.RAMCap += child.AvailableResources.RAMCap
	accumulator.NumRunningTasksBelow += child.NumRunningTasksBelow
	accumulator.NumSlotsBelow += child.NumSlotsBelow
	return nil
}

// UpdateStats is a no-op kept for API symmetry with the solver, which
// calls it unconditionally after every round.
func (a *StatsAggregator) UpdateStats(accumulatorID, childID types.ResourceID) error {
	return nil
}
