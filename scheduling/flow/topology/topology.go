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

// Package topology mirrors the cluster's resource tree: machines, sockets,
// NUMA nodes and PUs, each keyed by an opaque ResourceID, with a cached
// back-pointer from every node to its owning machine.
package topology

import (
	"github.com/pkg/errors"

	"github.com/flowsched/flowsched/pkg/types"
	"github.com/flowsched/flowsched/pkg/types/resourcestatus"
)

// ErrOrphanNonMachine is returned when a non-machine resource has no parent
// recorded in the tree; this indicates registry corruption, never a
// legitimate runtime state.
var ErrOrphanNonMachine = errors.New("topology: non-machine resource has no parent")

// ErrNotFound is returned by Find/MachineOf when the resource id is unknown
// to the mirror.
var ErrNotFound = errors.New("topology: resource id not found")

// node is the tree's internal bookkeeping record for one ResourceDescriptor.
// It wraps a resourcestatus.ResourceStatus rather than a bare descriptor
// pointer so the mirror can also track each resource's endpoint and last
// heartbeat, not just its static topology shape.
type node struct {
	status     *resourcestatus.ResourceStatus
	machineID  types.ResourceID
	hasMachine bool
	children   []types.ResourceID
}

func (n *node) desc() *types.ResourceDescriptor { return n.status.Descriptor() }

// Mirror is the resource-tree mirror (component C1). It is not safe for
// concurrent use across a round boundary; the orchestrator serializes
// AddSubtree/RemoveSubtree against in-round reads, per the single-round
// concurrency model.
type Mirror struct {
	nodes map[types.ResourceID]*node
}

// New returns an empty resource topology mirror.
func New() *Mirror {
	return &Mirror{nodes: make(map[types.ResourceID]*node)}
}

// Find returns the resource descriptor for id, or ErrNotFound.
func (m *Mirror) Find(id types.ResourceID) (*types.ResourceDescriptor, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "resource %s", id)
	}
	return n.desc(), nil
}

// MachineOf returns the ResourceID of id's owning machine (id itself for a
// MACHINE node). The owning machine is recorded for every node while
// AddSubtree descends from the machine, so lookups are O(1).
func (m *Mirror) MachineOf(id types.ResourceID) (types.ResourceID, error) {
	n, ok := m.nodes[id]
	if !ok {
		return types.NilResourceID, errors.Wrapf(ErrNotFound, "resource %s", id)
	}
	if n.desc().Type == types.ResourceMachine {
		return id, nil
	}
	if !n.hasMachine {
		return types.NilResourceID, errors.Wrapf(ErrOrphanNonMachine, "resource %s (%s)", id, n.desc().Type)
	}
	return n.machineID, nil
}

// AddSubtree inserts root and its descendants, computing and caching the
// owning-machine back-pointer for every non-machine node as it descends.
func (m *Mirror) AddSubtree(root *types.ResourceTopologyNodeDescriptor) error {
	return m.addSubtree(root, types.NilResourceID, false)
}

func (m *Mirror) addSubtree(rtnd *types.ResourceTopologyNodeDescriptor, machineID types.ResourceID, hasMachine bool) error {
	desc := rtnd.ResourceDesc
	n := &node{status: resourcestatus.New(desc, rtnd, "")}

	switch desc.Type {
	case types.ResourceMachine:
		n.hasMachine = true
		n.machineID = desc.UUID
		machineID = desc.UUID
		hasMachine = true
	case types.ResourceCoordinator:
		// Coordinators sit above machines; they legitimately have no owning
		// machine, matching the tree root's exemption from OrphanNonMachine.
		n.hasMachine = false
	default:
		if !hasMachine {
			return errors.Wrapf(ErrOrphanNonMachine, "resource %s (%s)", desc.UUID, desc.Type)
		}
		n.hasMachine = true
		n.machineID = machineID
	}

	for _, child := range rtnd.Children {
		n.children = append(n.children, child.ResourceDesc.UUID)
	}
	m.nodes[desc.UUID] = n

	for _, child := range rtnd.Children {
		if err := m.addSubtree(child, machineID, hasMachine); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSubtree deletes id and all of its descendants from the mirror.
func (m *Mirror) RemoveSubtree(id types.ResourceID) {
	n, ok := m.nodes[id]
	if !ok {
		return
	}
	for _, child := range n.children {
		m.RemoveSubtree(child)
	}
	delete(m.nodes, id)
}

// Children returns the direct child ids of id.
func (m *Mirror) Children(id types.ResourceID) []types.ResourceID {
	n, ok := m.nodes[id]
	if !ok {
		return nil
	}
	return n.children
}

// Descriptors returns every resource descriptor currently mirrored, in no
// particular order. Callers that need a stable traversal order should sort
// by UUID string.
func (m *Mirror) Descriptors() []*types.ResourceDescriptor {
	out := make([]*types.ResourceDescriptor, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.desc())
	}
	return out
}

// Machines returns every MACHINE-typed resource descriptor mirrored.
func (m *Mirror) Machines() []*types.ResourceDescriptor {
	var out []*types.ResourceDescriptor
	for _, n := range m.nodes {
		if n.desc().Type == types.ResourceMachine {
			out = append(out, n.desc())
		}
	}
	return out
}

// WalkPostOrder visits the subtree rooted at id in post-order, invoking fn
// with each descriptor and its parent (parent is nil at the root). The
// stats aggregator (C7) relies on this ordering: a child's available
// resources must be finalized before its parent accumulates them.
func (m *Mirror) WalkPostOrder(id types.ResourceID, fn func(child, parent *types.ResourceDescriptor)) {
	m.walkPostOrder(id, nil, fn)
}

func (m *Mirror) walkPostOrder(id types.ResourceID, parent *types.ResourceDescriptor, fn func(child, parent *types.ResourceDescriptor)) {
	n, ok := m.nodes[id]
	if !ok {
		return
	}
	for _, childID := range n.children {
		m.walkPostOrder(childID, n.desc(), fn)
	}
	fn(n.desc(), parent)
}

// Heartbeat records ts as the last-observed heartbeat for id, per the
// resource status the tree wraps every node in.
func (m *Mirror) Heartbeat(id types.ResourceID, ts uint64) error {
	n, ok := m.nodes[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "resource %s", id)
	}
	n.status.SetLastHeartbeat(ts)
	return nil
}

// LastHeartbeat returns the last-recorded heartbeat timestamp for id.
func (m *Mirror) LastHeartbeat(id types.ResourceID) (uint64, error) {
	n, ok := m.nodes[id]
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "resource %s", id)
	}
	return n.status.LastHeartbeat(), nil
}

// Endpoint returns the resource's registered endpoint URI, set at
// AddSubtree time.
func (m *Mirror) Endpoint(id types.ResourceID) (string, error) {
	n, ok := m.nodes[id]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "resource %s", id)
	}
	return n.status.Location(), nil
}
