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

import (
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"

	"github.com/flowsched/flowsched/pkg/types"
	"github.com/flowsched/flowsched/scheduling/flow/labelindex"
)

// ConstraintEvaluator is component C4: it evaluates node-selector,
// node-affinity, pod-affinity and pod-anti-affinity predicates against a
// candidate machine for a given task, both the hard (required) and soft
// (preferred) variants.
//
// Node-side matching (SatisfiesNodeSideHard, ScoreNodeAffinitySoft) reads a
// candidate ResourceDescriptor's Labels directly: there is exactly one
// machine per evaluation, so there is nothing for a task-id-keyed index to
// buy there. Pod-side matching evaluates a selector against every other
// running task on the machine, which is exactly what labels is for: it
// resolves key/value membership without scanning each task's label map.
type ConstraintEvaluator struct {
	taskMap *types.TaskMap
	scorer  *PriorityScorer
	labels  *labelindex.Index
}

// NewConstraintEvaluator wires the evaluator to the shared task registry,
// priority scorer and pod-label index.
func NewConstraintEvaluator(taskMap *types.TaskMap, scorer *PriorityScorer, labels *labelindex.Index) *ConstraintEvaluator {
	return &ConstraintEvaluator{taskMap: taskMap, scorer: scorer, labels: labels}
}

// IndexTask records task's labels into the shared pod-label index. The
// cost model calls this from AddTask; RemoveTask calls UnindexTask with the
// same labels before the task drops out of the registry.
func (c *ConstraintEvaluator) IndexTask(task *types.TaskDescriptor) {
	for k, v := range task.Labels {
		c.labels.Set(task.UID, k, v)
	}
}

// UnindexTask drops task's labels from the shared pod-label index.
func (c *ConstraintEvaluator) UnindexTask(task *types.TaskDescriptor) {
	for k := range task.Labels {
		c.labels.RemoveTask(task.UID, k)
	}
}

func operatorToSelection(op v1.NodeSelectorOperator) (selection.Operator, error) {
	switch op {
	case v1.NodeSelectorOpIn:
		return selection.In, nil
	case v1.NodeSelectorOpNotIn:
		return selection.NotIn, nil
	case v1.NodeSelectorOpExists:
		return selection.Exists, nil
	case v1.NodeSelectorOpDoesNotExist:
		return selection.DoesNotExist, nil
	case v1.NodeSelectorOpGt:
		return selection.GreaterThan, nil
	case v1.NodeSelectorOpLt:
		return selection.LessThan, nil
	default:
		return "", ErrUnsupportedOperator
	}
}

func matchNodeSelectorRequirement(req types.LabelSelectorRequirement, set labels.Set) (bool, error) {
	op, err := operatorToSelection(req.Operator)
	if err != nil {
		return false, err
	}
	r, err := labels.NewRequirement(req.Key, op, req.Values)
	if err != nil {
		return false, err
	}
	return r.Matches(set), nil
}

// conjunction: a term is satisfied iff every match expression holds.
func nodeSelectorTermSatisfied(exprs []types.LabelSelectorRequirement, set labels.Set) (bool, error) {
	for _, expr := range exprs {
		ok, err := matchNodeSelectorRequirement(expr, set)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func v1NodeSelectorTermSatisfied(term v1.NodeSelectorTerm, set labels.Set) (bool, error) {
	exprs := make([]types.LabelSelectorRequirement, 0, len(term.MatchExpressions))
	for _, e := range term.MatchExpressions {
		exprs = append(exprs, types.LabelSelectorRequirement{Key: e.Key, Operator: e.Operator, Values: e.Values})
	}
	return nodeSelectorTermSatisfied(exprs, set)
}

// nodeAffinityRequiredSatisfied evaluates the *disjunction* of node
// selector terms: any matching term is sufficient.
func nodeAffinityRequiredSatisfied(ns *v1.NodeSelector, set labels.Set) (bool, error) {
	if ns == nil || len(ns.NodeSelectorTerms) == 0 {
		return true, nil
	}
	for _, term := range ns.NodeSelectorTerms {
		ok, err := v1NodeSelectorTermSatisfied(term, set)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// allowedNamespaces resolves a pod-affinity term's namespace scope: the
// term's explicit list if non-empty, else the scored task's own
// namespace. Deliberately recomputed per term/expression rather than
// accumulated across calls, resolving the "namespaces" Open Question in
// spec §9 toward a per-term local.
func allowedNamespaces(term *v1.PodAffinityTerm, task *types.TaskDescriptor) map[string]bool {
	set := make(map[string]bool)
	if len(term.Namespaces) == 0 {
		set[task.Namespace] = true
		return set
	}
	for _, ns := range term.Namespaces {
		set[ns] = true
	}
	return set
}

// runningTasksOn returns the RUNNING task descriptors currently occupying
// machine, resolved via the shared task registry. Complexity is
// O(|running pods on m|), matching §5's stated bound.
func (c *ConstraintEvaluator) runningTasksOn(machine *types.ResourceDescriptor) []*types.TaskDescriptor {
	c.taskMap.RLock()
	defer c.taskMap.RUnlock()
	var out []*types.TaskDescriptor
	for id := range machine.CurrentRunningTasks {
		t := c.taskMap.UnsafeGet()[id]
		if t != nil && t.State == types.TaskRunning {
			out = append(out, t)
		}
	}
	return out
}

// podsInNamespaces filters pods down to the ids allowed by allowedNS,
// keyed for set membership tests against labelindex lookups.
func podsInNamespaces(pods []*types.TaskDescriptor, allowedNS map[string]bool) map[types.TaskID]bool {
	out := make(map[types.TaskID]bool, len(pods))
	for _, p := range pods {
		if allowedNS[p.Namespace] {
			out[p.UID] = true
		}
	}
	return out
}

// matchExpressionOverPods evaluates one pod-affinity match expression
// against the set of other running tasks per §4.4, resolving key/value
// membership via the shared pod-label index rather than reading each
// candidate's label map directly. In/NotIn/Exists/DoesNotExist are
// existential over running tasks in allowed namespaces.
//
// NotIn returns unsatisfied when no running task in an allowed namespace
// carries the key, rather than trivially succeeding; DoesNotExist returns
// unsatisfied when no running task is in an allowed namespace at all. This
// mirrors the source's literal behaviour flagged
// as a possible inversion in spec §9; the decision to preserve it (instead
// of guessing the "intended" semantics) is recorded in DESIGN.md.
func (c *ConstraintEvaluator) matchExpressionOverPods(expr metav1.LabelSelectorRequirement, pods []*types.TaskDescriptor, allowedNS map[string]bool) (bool, error) {
	inNS := podsInNamespaces(pods, allowedNS)

	switch expr.Operator {
	case metav1.LabelSelectorOpIn:
		for _, v := range expr.Values {
			for id := range c.labels.Lookup(expr.Key, v) {
				if inNS[id] {
					return true, nil
				}
			}
		}
		return false, nil
	case metav1.LabelSelectorOpNotIn:
		seenKey := false
		for id := range c.labels.TasksWithKey(expr.Key) {
			if inNS[id] {
				seenKey = true
				break
			}
		}
		if !seenKey {
			return false, nil
		}
		matched := false
		for _, v := range expr.Values {
			for id := range c.labels.Lookup(expr.Key, v) {
				if inNS[id] {
					matched = true
				}
			}
		}
		return !matched, nil
	case metav1.LabelSelectorOpExists:
		for id := range c.labels.TasksWithKey(expr.Key) {
			if inNS[id] {
				return true, nil
			}
		}
		return false, nil
	case metav1.LabelSelectorOpDoesNotExist:
		if len(inNS) == 0 {
			return false, nil
		}
		for id := range c.labels.TasksWithKey(expr.Key) {
			if inNS[id] {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, ErrUnsupportedOperator
	}
}

// podAffinityTermSatisfied conjuncts every match expression of term's
// label selector (including MatchLabels, folded into implicit In
// expressions) over the running-pod population.
func (c *ConstraintEvaluator) podAffinityTermSatisfied(term v1.PodAffinityTerm, task *types.TaskDescriptor, pods []*types.TaskDescriptor) (bool, error) {
	if term.LabelSelector == nil {
		return true, nil
	}
	ns := allowedNamespaces(&term, task)
	for k, v := range term.LabelSelector.MatchLabels {
		ok, err := c.matchExpressionOverPods(metav1.LabelSelectorRequirement{Key: k, Operator: metav1.LabelSelectorOpIn, Values: []string{v}}, pods, ns)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	for _, expr := range term.LabelSelector.MatchExpressions {
		ok, err := c.matchExpressionOverPods(expr, pods, ns)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// SatisfiesNodeSideHard evaluates node-selector and required node-affinity.
func (c *ConstraintEvaluator) SatisfiesNodeSideHard(task *types.TaskDescriptor, machine *types.ResourceDescriptor) (bool, error) {
	set := labels.Set(machine.Labels)

	if ok, err := nodeSelectorTermSatisfied(task.LabelSelectors, set); err != nil || !ok {
		return false, err
	}
	if task.Affinity != nil && task.Affinity.NodeAffinity != nil {
		return nodeAffinityRequiredSatisfied(task.Affinity.NodeAffinity.RequiredDuringSchedulingIgnoredDuringExecution, set)
	}
	return true, nil
}

// SatisfiesPodSideHard evaluates required pod-affinity and
// pod-anti-affinity against machine's currently running pods.
func (c *ConstraintEvaluator) SatisfiesPodSideHard(task *types.TaskDescriptor, machine *types.ResourceDescriptor) (bool, error) {
	pods := c.runningTasksOn(machine)

	if task.Affinity != nil && task.Affinity.PodAffinity != nil {
		for _, term := range task.Affinity.PodAffinity.RequiredDuringSchedulingIgnoredDuringExecution {
			ok, err := c.podAffinityTermSatisfied(term, task, pods)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}

	if task.Affinity != nil && task.Affinity.PodAntiAffinity != nil {
		for _, term := range task.Affinity.PodAntiAffinity.RequiredDuringSchedulingIgnoredDuringExecution {
			matched, err := c.podAffinityTermSatisfied(term, task, pods)
			if err != nil {
				return false, err
			}
			// Anti-affinity inverts the "any match" outcome: satisfied
			// only when nothing matches.
			if matched {
				return false, nil
			}
		}
	}
	return true, nil
}

// SatisfiesHard evaluates node-selector, node-affinity required,
// pod-affinity required and pod-anti-affinity required, short-circuiting
// on the first failure. It is the combined predicate used outside the
// EC-preference workflow, which instead interleaves the node/pod halves
// with soft scoring (see costmodel.go's GetOutgoingEquivClassPrefArcs).
func (c *ConstraintEvaluator) SatisfiesHard(task *types.TaskDescriptor, machine *types.ResourceDescriptor) (bool, error) {
	if ok, err := c.SatisfiesNodeSideHard(task, machine); err != nil || !ok {
		return false, err
	}
	return c.SatisfiesPodSideHard(task, machine)
}

// ScoreNodeAffinitySoft computes the weighted sum over node-affinity
// preferred terms and records it into the priority scorer. A task with no
// node-affinity preferred terms at all is not recorded, so it never
// poisons the axis's min/max with an artificial zero (boundary rule, §8).
func (c *ConstraintEvaluator) ScoreNodeAffinitySoft(task *types.TaskDescriptor, machine *types.ResourceDescriptor, ec types.EquivClass) {
	if task.Affinity == nil || task.Affinity.NodeAffinity == nil {
		return
	}
	terms := task.Affinity.NodeAffinity.PreferredDuringSchedulingIgnoredDuringExecution
	if len(terms) == 0 {
		return
	}

	set := labels.Set(machine.Labels)
	satisfy := true
	var raw int64
	for _, wterm := range terms {
		ok, err := v1NodeSelectorTermSatisfied(wterm.Preference, set)
		if err != nil {
			satisfy = false
			continue
		}
		if ok {
			raw += int64(wterm.Weight)
		}
	}
	c.scorer.RecordNodeAffinity(ec, machine.UUID, satisfy, raw)
}

// ScorePodAffinitySoft computes the weighted sum over pod-affinity and
// pod-anti-affinity preferred terms and records it into the priority
// scorer. A task with no preferred terms on either axis is not recorded.
func (c *ConstraintEvaluator) ScorePodAffinitySoft(task *types.TaskDescriptor, machine *types.ResourceDescriptor, ec types.EquivClass) {
	var affTerms, antiTerms int
	if task.Affinity != nil && task.Affinity.PodAffinity != nil {
		affTerms = len(task.Affinity.PodAffinity.PreferredDuringSchedulingIgnoredDuringExecution)
	}
	if task.Affinity != nil && task.Affinity.PodAntiAffinity != nil {
		antiTerms = len(task.Affinity.PodAntiAffinity.PreferredDuringSchedulingIgnoredDuringExecution)
	}
	if affTerms == 0 && antiTerms == 0 {
		return
	}

	var raw int64
	pods := c.runningTasksOn(machine)
	if affTerms > 0 {
		for _, wterm := range task.Affinity.PodAffinity.PreferredDuringSchedulingIgnoredDuringExecution {
			ok, err := c.podAffinityTermSatisfied(wterm.PodAffinityTerm, task, pods)
			if err == nil && ok {
				raw += int64(wterm.Weight)
			}
		}
	}
	if antiTerms > 0 {
		for _, wterm := range task.Affinity.PodAntiAffinity.PreferredDuringSchedulingIgnoredDuringExecution {
			matched, err := c.podAffinityTermSatisfied(wterm.PodAffinityTerm, task, pods)
			if err == nil && !matched {
				raw += int64(wterm.Weight)
			}
		}
	}
	c.scorer.RecordPodAffinity(ec, machine.UUID, raw)
}
