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

package flowgraph

// ArcType distinguishes arcs that are rebuilt every round from fixed
// arcs that persist across rounds.
type ArcType int

const (
	// OtherArc is any arc that is not permanent, including the priced
	// task-EC -> machine-EC arcs the round orchestrator adds each round.
	OtherArc ArcType = iota
	// PermanentArc marks a fixed-topology arc (e.g. the aggregator to
	// unscheduled node) that never gets deleted between rounds.
	PermanentArc
)

// Arc is a directed edge of the scheduling flow graph. Cost, CapLowerBound
// and CapUpperBound are the flow-solver-facing fields the cost model
// populates from an ArcDescriptor.
type Arc struct {
	Src, Dst         uint64
	SrcNode, DstNode *Node

	CapLowerBound uint64
	CapUpperBound uint64
	Cost          int64

	Type ArcType
}

// NewArc builds an arc between two nodes with zero cost/capacity. Callers
// fill in Cost/CapUpperBound/CapLowerBound afterwards, typically from a
// costmodel.ArcDescriptor.
func NewArc(srcNode, dstNode *Node) *Arc {
	return &Arc{
		Src:     srcNode.ID,
		Dst:     dstNode.ID,
		SrcNode: srcNode,
		DstNode: dstNode,
	}
}

// ArcDescriptor is the minimal (cost, capacity, lower bound) triple the cost
// model hands back for every arc class it prices. It is duplicated here
// (rather than imported from costmodel) to keep flowgraph free of a
// dependency on the pricing package; costmodel.ArcDescriptor is
// structurally identical and convertible.
type ArcDescriptor struct {
	Cost       int64
	Capacity   uint64
	LowerBound uint64
}

// ApplyDescriptor copies an ArcDescriptor's fields onto the arc.
func (a *Arc) ApplyDescriptor(d ArcDescriptor) {
	a.Cost = d.Cost
	a.CapUpperBound = d.Capacity
	a.CapLowerBound = d.LowerBound
}
