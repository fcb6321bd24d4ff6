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

// Resource status representation.

package resourcestatus

import t "github.com/flowsched/flowsched/pkg/types"

type ResourceStatus struct {
	descriptor    *t.ResourceDescriptor
	topologyNode  *t.ResourceTopologyNodeDescriptor
	endpointURI   string
	lastHeartbeat uint64
}

func New(descriptor *t.ResourceDescriptor, topologyNode *t.ResourceTopologyNodeDescriptor, endpointURI string) *ResourceStatus {
	return &ResourceStatus{
		descriptor:   descriptor,
		topologyNode: topologyNode,
		endpointURI:  endpointURI,
	}
}

func (rs *ResourceStatus) Descriptor() *t.ResourceDescriptor {
	return rs.descriptor
}

func (rs *ResourceStatus) TopologyNode() *t.ResourceTopologyNodeDescriptor {
	return rs.topologyNode
}

func (rs *ResourceStatus) Location() string {
	return rs.endpointURI
}

func (rs *ResourceStatus) LastHeartbeat() uint64 {
	return rs.lastHeartbeat
}

func (rs *ResourceStatus) SetLastHeartbeat(hb uint64) {
	rs.lastHeartbeat = hb
}
