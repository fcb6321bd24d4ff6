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
	"testing"

	"github.com/flowsched/flowsched/pkg/types"
)

func TestAddNodeAssignsIDWhenZero(t *testing.T) {
	g := New(false)
	n := g.AddNode(&Node{Type: EquivalenceClass})
	if n.ID == 0 {
		t.Fatal("AddNode left ID at zero")
	}
	if g.Node(n.ID) != n {
		t.Errorf("Node(%d) = %v, want the node just added", n.ID, g.Node(n.ID))
	}
}

func TestAddNodeKeepsExplicitID(t *testing.T) {
	g := New(false)
	n := g.AddNode(&Node{ID: 42, Type: Machine})
	if n.ID != 42 {
		t.Errorf("AddNode with explicit ID = %d, want 42", n.ID)
	}
}

func TestAddArcLinksNodesBothWays(t *testing.T) {
	g := New(false)
	src := g.AddNode(&Node{Type: EquivalenceClass})
	dst := g.AddNode(&Node{Type: EquivalenceClass})

	arc := g.AddArc(src.ID, dst.ID, ArcDescriptor{Cost: 5, Capacity: 1}, OtherArc)
	if arc.Cost != 5 || arc.CapUpperBound != 1 {
		t.Errorf("AddArc arc = %+v, want cost 5 capacity 1", arc)
	}
	if got := g.GetArc(src.ID, dst.ID); got != arc {
		t.Errorf("GetArc = %v, want %v", got, arc)
	}
	if src.OutgoingArcs()[dst.ID] != arc {
		t.Error("arc missing from source's outgoing map")
	}
	if dst.IncomingArcs()[src.ID] != arc {
		t.Error("arc missing from destination's incoming map")
	}
}

func TestDeleteNodeRecyclesID(t *testing.T) {
	g := New(false)
	n := g.AddNode(&Node{Type: EquivalenceClass})
	id := n.ID
	g.DeleteNode(id)
	if g.Node(id) != nil {
		t.Error("Node still present after DeleteNode")
	}

	next := g.AddNode(&Node{Type: EquivalenceClass})
	if next.ID != id {
		t.Errorf("AddNode after DeleteNode got id %d, want recycled id %d", next.ID, id)
	}
}

func TestDeleteArcRemovesBothDirections(t *testing.T) {
	g := New(false)
	src := g.AddNode(&Node{Type: EquivalenceClass})
	dst := g.AddNode(&Node{Type: EquivalenceClass})
	g.AddArc(src.ID, dst.ID, ArcDescriptor{Cost: 1, Capacity: 1}, OtherArc)

	g.DeleteArc(src.ID, dst.ID)

	if g.GetArc(src.ID, dst.ID) != nil {
		t.Error("GetArc after DeleteArc still returns the arc")
	}
	if len(src.OutgoingArcs()) != 0 {
		t.Error("source's outgoing map still has the arc after DeleteArc")
	}
	if len(dst.IncomingArcs()) != 0 {
		t.Error("destination's incoming map still has the arc after DeleteArc")
	}
}

func TestNodeAddArcPanicsOnSourceMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("AddArc with mismatched source did not panic")
		}
	}()
	g := New(false)
	a := g.AddNode(&Node{Type: EquivalenceClass})
	b := g.AddNode(&Node{Type: EquivalenceClass})
	c := g.AddNode(&Node{Type: EquivalenceClass})
	arc := NewArc(b, c)
	a.AddArc(arc)
}

func TestResourceNodeTypeMapsResourceTypes(t *testing.T) {
	n := &Node{Type: Machine}
	if !n.IsResourceNode() {
		t.Error("Machine node type should be a resource node")
	}
	if n.IsTaskNode() {
		t.Error("Machine node type should not be a task node")
	}
}

func TestResourceNodeTypeConvertsResourceType(t *testing.T) {
	if got := ResourceNodeType(types.ResourceMachine); got != Machine {
		t.Errorf("ResourceNodeType(machine) = %v, want Machine", got)
	}
	if got := ResourceNodeType(types.ResourcePu); got != Pu {
		t.Errorf("ResourceNodeType(pu) = %v, want Pu", got)
	}
}
