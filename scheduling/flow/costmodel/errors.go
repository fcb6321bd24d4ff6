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

import "github.com/pkg/errors"

// The cost model has no recoverable failure modes at arc granularity:
// unsatisfiable preferences produce zero-capacity arcs, never errors. These
// four kinds are the errors this package defines, and every one of them
// indicates registry corruption or a programmer error in the caller.
// Label-selector parse errors from k8s.io/apimachinery and topology errors
// from AddMachine are passed through unchanged. None are recovered
// locally and nothing in this module retries; the caller is expected to
// rebuild state.
var (
	// ErrMissingRegistryEntry is returned when a query references an EC,
	// task or machine that isn't in the registry.
	ErrMissingRegistryEntry = errors.New("costmodel: registry entry missing")

	// ErrOrphanNonMachine is returned when a resource of non-machine type
	// has no parent recorded.
	ErrOrphanNonMachine = errors.New("costmodel: resource has no parent")

	// ErrUnsupportedOperator is returned when a label-selector operator
	// falls outside {In, NotIn, Exists, DoesNotExist, Gt, Lt}.
	ErrUnsupportedOperator = errors.New("costmodel: unsupported selector operator")

	// ErrCapacityExceeded is returned when an accumulated resource vector
	// would exceed its capacity vector.
	ErrCapacityExceeded = errors.New("costmodel: accumulated resources exceed capacity")
)
