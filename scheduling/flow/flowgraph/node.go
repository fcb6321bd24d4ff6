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

	"github.com/flowsched/flowsched/pkg/types"
)

// NodeType enumerates the kinds of node the solver's flow graph can contain.
type NodeType int

const (
	RootTask NodeType = iota + 1
	ScheduledTask
	UnscheduledTask
	JobAggregator
	Sink
	EquivalenceClass
	Coordinator
	Machine
	NumaNode
	Socket
	Core
	Pu
)

// Node represents a node in the scheduling flow graph.
type Node struct {
	ID uint64
	// Excess is the supply of excess flow at this node. Zero for
	// non-source/sink nodes.
	Excess int64
	Type    NodeType
	Comment string

	// Task is set when Type is one of the task node kinds.
	Task  *types.TaskDescriptor
	JobID types.JobID

	// ResourceID/ResourceDescriptor are set when IsResourceNode() is true.
	ResourceID         types.ResourceID
	ResourceDescriptor *types.ResourceDescriptor

	// EC is set when Type == EquivalenceClass.
	EC types.EquivClass

	outgoingArcMap map[uint64]*Arc
	incomingArcMap map[uint64]*Arc

	visited uint32
}

func insertIfNotPresent(m map[uint64]*Arc, k uint64, val *Arc) bool {
	if _, ok := m[k]; ok {
		return false
	}
	m[k] = val
	return true
}

func (n *Node) AddArc(arc *Arc) {
	if arc.Src != n.ID {
		logrus.WithFields(logrus.Fields{"arc_src": arc.Src, "node": n.ID}).Panic("AddArc: arc source does not match node")
	}
	if !insertIfNotPresent(n.outgoingArcMap, arc.Dst, arc) {
		logrus.WithFields(logrus.Fields{"arc": arc, "node": n.ID}).Panic("AddArc: arc already present in outgoing map")
	}
	if !insertIfNotPresent(arc.DstNode.incomingArcMap, arc.Src, arc) {
		logrus.WithFields(logrus.Fields{"arc": arc, "node": arc.DstNode.ID}).Panic("AddArc: arc already present in incoming map")
	}
}

func (n *Node) OutgoingArcs() map[uint64]*Arc { return n.outgoingArcMap }
func (n *Node) IncomingArcs() map[uint64]*Arc { return n.incomingArcMap }

func (n *Node) IsEquivalenceClassNode() bool { return n.Type == EquivalenceClass }

func (n *Node) IsResourceNode() bool {
	switch n.Type {
	case Coordinator, Machine, NumaNode, Socket, Core, Pu:
		return true
	default:
		return false
	}
}

func (n *Node) IsTaskNode() bool {
	switch n.Type {
	case RootTask, ScheduledTask, UnscheduledTask:
		return true
	default:
		return false
	}
}

func (n *Node) IsTaskAssignedOrRunning() bool {
	if n.Task == nil {
		logrus.WithField("node", n.ID).Panic("IsTaskAssignedOrRunning: nil task descriptor")
	}
	return n.Task.State == types.TaskRunning
}

func ResourceNodeType(rt types.ResourceType) NodeType {
	switch rt {
	case types.ResourcePu:
		return Pu
	case types.ResourceCore:
		return Core
	case types.ResourceMachine:
		return Machine
	case types.ResourceNumaNode:
		return NumaNode
	case types.ResourceSocket:
		return Socket
	case types.ResourceCoordinator:
		return Coordinator
	default:
		logrus.WithField("resource_type", rt).Panic("ResourceNodeType: unsupported resource type")
		return 0
	}
}
