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

// Common type definitions for the scheduling flow graph.

package types

import (
	"sync"

	"github.com/google/uuid"
)

type (
	TaskID     uint64
	JobID      uint64
	EquivClass uint64
	// ResourceID is an opaque, globally unique identifier for a node in the
	// resource tree (coordinator, machine, NUMA node, socket, core or PU).
	ResourceID uuid.UUID
)

// NilResourceID is the zero value, used to mean "no parent" (the root of a
// resource tree).
var NilResourceID = ResourceID(uuid.Nil)

func (r ResourceID) String() string {
	return uuid.UUID(r).String()
}

func NewResourceID() ResourceID {
	return ResourceID(uuid.New())
}

func ResourceIDFromString(s string) (ResourceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilResourceID, err
	}
	return ResourceID(u), nil
}

// Thread safe maps: acquire and release a lock on every read/write.
type ResourceMap struct {
	rwMu sync.RWMutex
	m    map[ResourceID]*ResourceDescriptor
}

type JobMap struct {
	rwMu sync.RWMutex
	m    map[JobID]*JobDescriptor
}

type TaskMap struct {
	rwMu sync.RWMutex
	m    map[TaskID]*TaskDescriptor
}

func NewResourceMap() *ResourceMap {
	return &ResourceMap{m: make(map[ResourceID]*ResourceDescriptor)}
}

func NewJobMap() *JobMap {
	return &JobMap{m: make(map[JobID]*JobDescriptor)}
}

func NewTaskMap() *TaskMap {
	return &TaskMap{m: make(map[TaskID]*TaskDescriptor)}
}

// UnsafeGet exposes the map for readonly iteration; caller must hold RLock.
func (rm *ResourceMap) UnsafeGet() map[ResourceID]*ResourceDescriptor { return rm.m }
func (jm *JobMap) UnsafeGet() map[JobID]*JobDescriptor            { return jm.m }
func (tm *TaskMap) UnsafeGet() map[TaskID]*TaskDescriptor         { return tm.m }

func (rm *ResourceMap) RLock()   { rm.rwMu.RLock() }
func (jm *JobMap) RLock()        { jm.rwMu.RLock() }
func (tm *TaskMap) RLock()       { tm.rwMu.RLock() }
func (rm *ResourceMap) RUnlock() { rm.rwMu.RUnlock() }
func (jm *JobMap) RUnlock()      { jm.rwMu.RUnlock() }
func (tm *TaskMap) RUnlock()     { tm.rwMu.RUnlock() }

// FindPtrOrNull performs a lookup, returning nil for a missing key. It does
// not distinguish a missing key from a key mapped to nil.
func (rm *ResourceMap) FindPtrOrNull(k ResourceID) *ResourceDescriptor {
	rm.rwMu.RLock()
	defer rm.rwMu.RUnlock()
	return rm.m[k]
}

func (jm *JobMap) FindPtrOrNull(k JobID) *JobDescriptor {
	jm.rwMu.RLock()
	defer jm.rwMu.RUnlock()
	return jm.m[k]
}

func (tm *TaskMap) FindPtrOrNull(k TaskID) *TaskDescriptor {
	tm.rwMu.RLock()
	defer tm.rwMu.RUnlock()
	return tm.m[k]
}

// InsertOrUpdate returns true if the key was newly inserted.
func (rm *ResourceMap) InsertOrUpdate(k ResourceID, v *ResourceDescriptor) bool {
	rm.rwMu.Lock()
	defer rm.rwMu.Unlock()
	_, ok := rm.m[k]
	rm.m[k] = v
	return !ok
}

func (jm *JobMap) InsertOrUpdate(k JobID, v *JobDescriptor) bool {
	jm.rwMu.Lock()
	defer jm.rwMu.Unlock()
	_, ok := jm.m[k]
	jm.m[k] = v
	return !ok
}

func (tm *TaskMap) InsertOrUpdate(k TaskID, v *TaskDescriptor) bool {
	tm.rwMu.Lock()
	defer tm.rwMu.Unlock()
	_, ok := tm.m[k]
	tm.m[k] = v
	return !ok
}

func (rm *ResourceMap) Delete(k ResourceID) {
	rm.rwMu.Lock()
	defer rm.rwMu.Unlock()
	delete(rm.m, k)
}

func (jm *JobMap) Delete(k JobID) {
	jm.rwMu.Lock()
	defer jm.rwMu.Unlock()
	delete(jm.m, k)
}

func (tm *TaskMap) Delete(k TaskID) {
	tm.rwMu.Lock()
	defer tm.rwMu.Unlock()
	delete(tm.m, k)
}

func (rm *ResourceMap) ContainsKey(k ResourceID) bool {
	rm.rwMu.RLock()
	defer rm.rwMu.RUnlock()
	_, ok := rm.m[k]
	return ok
}

func (tm *TaskMap) ContainsKey(k TaskID) bool {
	tm.rwMu.RLock()
	defer tm.rwMu.RUnlock()
	_, ok := tm.m[k]
	return ok
}
