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

package util

import (
	"sort"
	"strconv"

	"github.com/segmentio/fasthash/fnv1a"

	"github.com/flowsched/flowsched/pkg/types"
)

// HashStringToEC hashes an already-formed string into an EquivClass id.
func HashStringToEC(s string) types.EquivClass {
	h := fnv1a.AddString64(fnv1a.Init64, s)
	return types.EquivClass(h)
}

// HashRequestSignature computes the domain-separated request-only
// equivalence-class signature: hash("req<cpu>cpumem<ram>"). This replaces the
// original hash_combine-over-string-concatenation trick called out in the
// Design Notes ("Hash-combine signatures") with an explicit accumulator so
// callers cannot accidentally collide a request-only signature with a
// selectors+request one by sharing a numeric prefix.
func HashRequestSignature(req types.ResourceVector) types.EquivClass {
	h := fnv1a.Init64
	h = fnv1a.AddString64(h, "req")
	h = fnv1a.AddString64(h, strconv.FormatInt(req.CPUCores, 10))
	h = fnv1a.AddString64(h, "cpumem")
	h = fnv1a.AddString64(h, strconv.FormatInt(req.RAMCap, 10))
	return types.EquivClass(h)
}

// HashSelectorsAndRequestSignature domain-separates the selectors+request
// signature from the request-only one computed by HashRequestSignature.
func HashSelectorsAndRequestSignature(selectors []types.LabelSelectorRequirement, req types.ResourceVector) types.EquivClass {
	sorted := make([]types.LabelSelectorRequirement, len(selectors))
	copy(sorted, selectors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	h := fnv1a.Init64
	h = fnv1a.AddString64(h, "sel")
	for _, s := range sorted {
		h = fnv1a.AddString64(h, s.Key)
		h = fnv1a.AddString64(h, string(s.Operator))
		values := append([]string(nil), s.Values...)
		sort.Strings(values)
		for _, v := range values {
			h = fnv1a.AddString64(h, v)
		}
	}
	h = fnv1a.AddString64(h, "cpumem")
	h = fnv1a.AddString64(h, strconv.FormatInt(req.CPUCores, 10))
	h = fnv1a.AddString64(h, strconv.FormatInt(req.RAMCap, 10))
	return types.EquivClass(h)
}

// HashJobSignature domain-separates the affinity-bearing job signature: all
// tasks of one affinity-bearing job share a task-EC.
func HashJobSignature(jobID types.JobID) types.EquivClass {
	h := fnv1a.Init64
	h = fnv1a.AddString64(h, "job")
	h = fnv1a.AddUint64(h, uint64(jobID))
	return types.EquivClass(h)
}

// HashMachineSlotSignature computes a machine-EC id for (machine, slot).
func HashMachineSlotSignature(machineID types.ResourceID, slot uint64) types.EquivClass {
	h := fnv1a.Init64
	h = fnv1a.AddString64(h, "machineslot")
	h = fnv1a.AddString64(h, machineID.String())
	h = fnv1a.AddUint64(h, slot)
	return types.EquivClass(h)
}
