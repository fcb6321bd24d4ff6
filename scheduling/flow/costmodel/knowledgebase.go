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

// CPUStats is one core's latest utilisation sample.
type CPUStats struct {
	CPUCapacity    int64
	CPUUtilization float64
	CPUAllocatable int64
}

// MachineStats is the knowledge base's latest sample for one machine. The
// cost model never constructs these; it only reads what the knowledge base
// (an external collaborator, out of scope here) hands back.
type MachineStats struct {
	CPUs           []CPUStats
	MemCapacity    int64
	MemUtilization float64
	MemAllocatable int64
}

// KnowledgeBase is the read-only contract the stats aggregator (C7) polls
// each round. The implementation that actually samples machine utilisation
// is an external collaborator; this package only depends on the interface.
type KnowledgeBase interface {
	// LatestStatsForMachine returns the most recent sample for machineID,
	// or ok=false if there is none. A false ok means "no update this
	// round"; the cost model keeps the last observed available vector.
	LatestStatsForMachine(machineID types.ResourceID) (MachineStats, bool)
}

// InMemoryKnowledgeBase is a test/embedding fake: a KnowledgeBase backed by
// a plain map, guarded the same way the rest of this module guards shared
// maps (RWMutex, not a channel or atomic).
type InMemoryKnowledgeBase struct {
	mu    sync.RWMutex
	stats map[types.ResourceID]MachineStats
}

// NewInMemoryKnowledgeBase returns an empty fake knowledge base.
func NewInMemoryKnowledgeBase() *InMemoryKnowledgeBase {
	return &InMemoryKnowledgeBase{stats: make(map[types.ResourceID]MachineStats)}
}

// SetStats records the latest sample for machineID, replacing any prior one.
func (kb *InMemoryKnowledgeBase) SetStats(machineID types.ResourceID, s MachineStats) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.stats[machineID] = s
}

// LatestStatsForMachine implements KnowledgeBase.
func (kb *InMemoryKnowledgeBase) LatestStatsForMachine(machineID types.ResourceID) (MachineStats, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	s, ok := kb.stats[machineID]
	return s, ok
}
