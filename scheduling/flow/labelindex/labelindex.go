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

// Package labelindex maintains the (label_key, label_value) -> set<task_id>
// index the cost model's ConstraintEvaluator reads during pod-affinity
// evaluation. The cost model keeps the index in sync with task lifecycle:
// AddTask/RemoveTask call IndexTask/UnindexTask to write it, and every
// SatisfiesPodSideHard/ScorePodAffinitySoft call reads it via Lookup and
// TasksWithKey.
package labelindex

import (
	"sync"

	"github.com/flowsched/flowsched/pkg/types"
)

// Index is a RWMutex-guarded key -> value -> set<task id> map, mirroring
// the ResourceMap/JobMap/TaskMap locking convention used elsewhere in this
// module.
type Index struct {
	mu   sync.RWMutex
	byKV map[string]map[string]map[types.TaskID]struct{}
}

// New returns an empty label index.
func New() *Index {
	return &Index{byKV: make(map[string]map[string]map[types.TaskID]struct{})}
}

// Set records that task carries label key=value. Called via
// ConstraintEvaluator.IndexTask when a task is added.
func (idx *Index) Set(taskID types.TaskID, key, value string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	values, ok := idx.byKV[key]
	if !ok {
		values = make(map[string]map[types.TaskID]struct{})
		idx.byKV[key] = values
	}
	tasks, ok := values[value]
	if !ok {
		tasks = make(map[types.TaskID]struct{})
		values[value] = tasks
	}
	tasks[taskID] = struct{}{}
}

// Remove drops task's key=value entry.
func (idx *Index) Remove(taskID types.TaskID, key, value string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	values, ok := idx.byKV[key]
	if !ok {
		return
	}
	tasks, ok := values[value]
	if !ok {
		return
	}
	delete(tasks, taskID)
	if len(tasks) == 0 {
		delete(values, value)
	}
	if len(values) == 0 {
		delete(idx.byKV, key)
	}
}

// RemoveTask drops every label entry for taskID under key. Callers without
// the previous value (e.g. task removal) use this instead of Remove.
func (idx *Index) RemoveTask(taskID types.TaskID, key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	values, ok := idx.byKV[key]
	if !ok {
		return
	}
	for value, tasks := range values {
		delete(tasks, taskID)
		if len(tasks) == 0 {
			delete(values, value)
		}
	}
	if len(values) == 0 {
		delete(idx.byKV, key)
	}
}

// Lookup returns the set of task ids carrying key=value, as of the moment
// of the call. The cost model calls this only with the round's frozen view
// in mind; a RUNNING task's labels updated mid-round may still be reflected
// under old values for the duration of that round, which is tolerated by
// the spec.
func (idx *Index) Lookup(key, value string) map[types.TaskID]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	values, ok := idx.byKV[key]
	if !ok {
		return nil
	}
	tasks, ok := values[value]
	if !ok {
		return nil
	}
	out := make(map[types.TaskID]struct{}, len(tasks))
	for id := range tasks {
		out[id] = struct{}{}
	}
	return out
}

// HasKey reports whether any task carries any value under key.
func (idx *Index) HasKey(key string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	values, ok := idx.byKV[key]
	return ok && len(values) > 0
}

// TasksWithKey returns every task carrying any value under key, regardless
// of which value. Pod-affinity's Exists/DoesNotExist/NotIn operators care
// about key presence independent of value, unlike Lookup which is scoped to
// one value.
func (idx *Index) TasksWithKey(key string) map[types.TaskID]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	values, ok := idx.byKV[key]
	if !ok {
		return nil
	}
	out := make(map[types.TaskID]struct{})
	for _, tasks := range values {
		for id := range tasks {
			out[id] = struct{}{}
		}
	}
	return out
}
