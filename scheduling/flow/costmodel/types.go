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

package costmodel

import "github.com/flowsched/flowsched/pkg/types"

// Omega is the default scoring scale factor: every cost-vector dimension
// is projected into [0, Omega] before being summed into a flattened cost.
const Omega = 1000

// OmegaTask is the fixed, large cost of leaving a task unscheduled; it must
// dominate any legitimate placement cost so the solver always prefers a
// feasible placement over letting a task starve.
const OmegaTask = 2560000

// ArcDescriptor is the (cost, capacity, lower_bound) triple the cost model
// returns for every arc class the solver consumes.
type ArcDescriptor struct {
	Cost       int64
	Capacity   uint64
	LowerBound uint64
}

// CostVector is the ordered tuple of cost dimensions priced for a
// (task-EC, machine-EC) arc. Every dimension lies in [0, Omega]; the
// flattened scalar cost is their unweighted sum.
type CostVector struct {
	CPUMemCost         int64
	BalancedResCost    int64
	NodeAffinitySoft   int64
	PodAffinitySoft    int64
}

// Flatten sums the cost vector's dimensions into the scalar cost handed to
// the solver.
func (v CostVector) Flatten() int64 {
	return v.CPUMemCost + v.BalancedResCost + v.NodeAffinitySoft + v.PodAffinitySoft
}

// score is the per-(task-EC, machine) priority record for one soft axis.
// final uses an explicit Unset/Set variant rather than a -1 sentinel so the
// "already normalised" branch is a plain nil check, never a magic number.
type score struct {
	satisfy  bool
	raw      int64
	final    *int64
}

// minMax tracks the running [min, max] of raw scores seen so far for one
// task-EC on one soft axis. Both fields are nil (unset) until the first
// score is recorded.
type minMax struct {
	min *int64
	max *int64
}

func (mm *minMax) observe(raw int64) {
	if mm.min == nil || raw < *mm.min {
		v := raw
		mm.min = &v
	}
	if mm.max == nil || raw > *mm.max {
		v := raw
		mm.max = &v
	}
}

// Config holds the tunables the cost model recognises. Construct with
// NewConfig and functional options (New passes its options through to
// NewConfig), mirroring the rest of this module's config surface.
type Config struct {
	// MaxMultiArcsForCPU upper-bounds the admission-slot count per machine
	// regardless of MaxPods.
	MaxMultiArcsForCPU uint64
	// MaxTasksPerPU is the legacy fallback for leaf-to-sink capacity when a
	// machine's MaxPods is unset (zero).
	MaxTasksPerPU uint64
	// Omega is the scoring scale factor.
	Omega int64
}

// Option configures a Config.
type Option func(*Config)

// WithMaxMultiArcsForCPU overrides the default 50-slot admission ceiling.
func WithMaxMultiArcsForCPU(n uint64) Option {
	return func(c *Config) { c.MaxMultiArcsForCPU = n }
}

// WithMaxTasksPerPU sets the legacy per-PU task ceiling fallback.
func WithMaxTasksPerPU(n uint64) Option {
	return func(c *Config) { c.MaxTasksPerPU = n }
}

// WithOmega overrides the default scoring scale factor.
func WithOmega(omega int64) Option {
	return func(c *Config) { c.Omega = omega }
}

// NewConfig builds a Config with the documented defaults, applying opts.
func NewConfig(opts ...Option) Config {
	c := Config{
		MaxMultiArcsForCPU: 50,
		MaxTasksPerPU:      1,
		Omega:              Omega,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// EffectiveSlots returns min(machine.MaxPods, cfg.MaxMultiArcsForCPU),
// falling back to MaxTasksPerPU when MaxPods is unset.
func (c Config) EffectiveSlots(maxPods uint64) uint64 {
	if maxPods == 0 {
		maxPods = c.MaxTasksPerPU
	}
	if maxPods > c.MaxMultiArcsForCPU {
		return c.MaxMultiArcsForCPU
	}
	return maxPods
}

// ecRecord pins a task-EC to its immutable representative request vector
// and task descriptor, per invariant 2.
type ecRecord struct {
	request       types.ResourceVector
	representative *types.TaskDescriptor
}

// machineEC identifies one admission slot of one machine.
type machineEC struct {
	machineID types.ResourceID
	slot      uint64
}
