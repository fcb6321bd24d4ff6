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

// Utility returning an increasing (optionally randomized) sequence of
// unique ids starting from 1. Ids are recycled after RecycleID.

package idgenerator

import (
	"math/rand"
	"time"

	"github.com/flowsched/flowsched/pkg/util/queue"
)

type IDGen interface {
	NextID() uint64
	RecycleID(uint64)
}

type idGen struct {
	nextID    uint64
	unusedIDs queue.FIFO
	// RandomizeIDs is only unique for the first run.
	RandomizeIDs bool
}

func New(randomizeIDs bool) IDGen {
	ig := &idGen{
		nextID:       1,
		unusedIDs:    queue.NewFIFO(),
		RandomizeIDs: randomizeIDs,
	}
	if randomizeIDs {
		ig.populateUnusedIds(50)
	}
	return ig
}

func (ig *idGen) NextID() uint64 {
	if ig.RandomizeIDs {
		if ig.unusedIDs.IsEmpty() {
			ig.populateUnusedIds(ig.nextID * 2)
		}
		return ig.unusedIDs.Pop().(uint64)
	}
	if ig.unusedIDs.IsEmpty() {
		newID := ig.nextID
		ig.nextID++
		return newID
	}
	return ig.unusedIDs.Pop().(uint64)
}

func (ig *idGen) RecycleID(oldID uint64) {
	ig.unusedIDs.Push(oldID)
}

func (ig *idGen) populateUnusedIds(newNextID uint64) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ids := make([]uint64, 0, newNextID-ig.nextID)
	for i := ig.nextID; i < newNextID; i++ {
		ids = append(ids, i)
	}
	for i := range ids {
		j := r.Intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
	for i := range ids {
		ig.unusedIDs.Push(ids[i])
	}
	ig.nextID = newNextID
}
