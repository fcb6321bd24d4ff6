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

import (
	"github.com/sirupsen/logrus"

	"github.com/flowsched/flowsched/pkg/util/idgenerator"
)

// Graph is the in-memory representation of the scheduling flow network
// handed to the external solver. It owns node/arc id allocation; the
// solver consumes it read-only after each round's pricing pass.
type Graph struct {
	ids idgenerator.IDGen

	nodeMap map[uint64]*Node
	arcSet  map[uint64]map[uint64]*Arc
}

// New creates an empty flow graph. When randomizeNodeIDs is true, node ids
// are drawn from a shuffled pool rather than issued sequentially; this
// matches the solver's expectation that node ids not leak allocation order
// as an implicit priority signal.
func New(randomizeNodeIDs bool) *Graph {
	return &Graph{
		ids:     idgenerator.New(randomizeNodeIDs),
		nodeMap: make(map[uint64]*Node),
		arcSet:  make(map[uint64]map[uint64]*Arc),
	}
}

func (g *Graph) NextID() uint64 {
	return g.ids.NextID()
}

// AddNode inserts n, assigning an id via NextID if n.ID is zero.
func (g *Graph) AddNode(n *Node) *Node {
	if n.ID == 0 {
		n.ID = g.NextID()
	}
	if n.outgoingArcMap == nil {
		n.outgoingArcMap = make(map[uint64]*Arc)
	}
	if n.incomingArcMap == nil {
		n.incomingArcMap = make(map[uint64]*Arc)
	}
	if _, exists := g.nodeMap[n.ID]; exists {
		logrus.WithField("node", n.ID).Panic("AddNode: node id already present in graph")
	}
	g.nodeMap[n.ID] = n
	return n
}

func (g *Graph) Node(id uint64) *Node {
	return g.nodeMap[id]
}

func (g *Graph) Nodes() map[uint64]*Node {
	return g.nodeMap
}

// DeleteNode removes a node and recycles its id. It does not remove
// dangling arcs; callers must DeleteArc first.
func (g *Graph) DeleteNode(id uint64) {
	if _, ok := g.nodeMap[id]; !ok {
		logrus.WithField("node", id).Panic("DeleteNode: no such node")
	}
	delete(g.nodeMap, id)
	delete(g.arcSet, id)
	g.ids.RecycleID(id)
}

// AddArc creates and indexes an arc between srcID and dstID, pricing it
// according to d.
func (g *Graph) AddArc(srcID, dstID uint64, d ArcDescriptor, arcType ArcType) *Arc {
	src, ok := g.nodeMap[srcID]
	if !ok {
		logrus.WithField("node", srcID).Panic("AddArc: unknown source node")
	}
	dst, ok := g.nodeMap[dstID]
	if !ok {
		logrus.WithField("node", dstID).Panic("AddArc: unknown destination node")
	}
	arc := NewArc(src, dst)
	arc.ApplyDescriptor(d)
	arc.Type = arcType
	src.AddArc(arc)

	if g.arcSet[srcID] == nil {
		g.arcSet[srcID] = make(map[uint64]*Arc)
	}
	g.arcSet[srcID][dstID] = arc
	return arc
}

func (g *Graph) GetArc(srcID, dstID uint64) *Arc {
	m, ok := g.arcSet[srcID]
	if !ok {
		return nil
	}
	return m[dstID]
}

func (g *Graph) DeleteArc(srcID, dstID uint64) {
	src, ok := g.nodeMap[srcID]
	if !ok {
		return
	}
	delete(src.outgoingArcMap, dstID)
	if dst, ok := g.nodeMap[dstID]; ok {
		delete(dst.incomingArcMap, srcID)
	}
	if m, ok := g.arcSet[srcID]; ok {
		delete(m, dstID)
	}
}
