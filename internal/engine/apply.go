package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/internal/logging"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// step is one provider call: deleting a deployed resource, or creating or
// updating a declared one. A deferred delete waits for the resources in
// users, which still reference it until they are updated.
type step struct {
	change   *ir.ResourceChange
	delete   bool
	deferred bool
	users    []string
}

func (s step) action() string {
	if s.delete && s.change.Action == plugin.ActionReplace.String() {
		return "REPLACE(delete)"
	}
	return s.change.Action
}

// ApplyPlanWithCallback executes a plan in sequential passes. Deletions,
// including the delete half of each replacement, run first in destruction
// order; creations and updates then run in the plan's creation order.
// Deleting a resource that a kept resource still references waits until
// after that resource's update, in a final destruction-ordered pass.
// If e.ContinueOnError is true, a failure skips only the resources that
// depend on the failed one and an aggregated error is returned at the end.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	steps, err := orderSteps(plan, state)
	if err != nil {
		return state, err
	}

	var errs []error
	failed := make(map[string]bool)

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("apply cancelled: %w", err)
		}
		addr := s.change.Address

		if (!s.delete && dependsOnFailed(s.change.Desired, failed)) || (s.deferred && anyFailed(s.users, failed)) {
			failed[addr] = true
			emit(ApplyEvent{Address: addr, Action: s.action(), Status: "skipped"})
			continue
		}

		start := time.Now()
		emit(ApplyEvent{Address: addr, Action: s.action(), Status: "started"})

		var stepErr error
		if s.delete {
			stepErr = e.deleteResource(ctx, s.change, state)
		} else {
			stepErr = e.applyResource(ctx, s.change, state)
		}

		if stepErr != nil {
			emit(ApplyEvent{Address: addr, Action: s.action(), Status: "failed", Duration: time.Since(start), Error: stepErr})
			if !e.ContinueOnError {
				return state, stepErr
			}
			failed[addr] = true
			errs = append(errs, stepErr)
			continue
		}
		emit(ApplyEvent{Address: addr, Action: s.action(), Status: "completed", Duration: time.Since(start)})
	}

	state.Serial++
	if plan.Metadata != nil {
		if plan.Metadata.Stack != "" {
			state.Stack = plan.Metadata.Stack
		}
		if plan.Metadata.Variant != "" {
			state.Variant = plan.Metadata.Variant
		}
	}
	state.Outputs = resolveOutputs(plan.Outputs, state)

	if len(errs) > 0 {
		return state, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}

	return state, nil
}

// orderSteps arranges the plan into its delete pass, its create pass and
// the deferred deletes of resources still referenced by kept resources.
func orderSteps(plan *ir.Plan, state *ir.State) ([]step, error) {
	deletes := make(map[string]*ir.ResourceChange)
	var creates []step
	for _, change := range plan.Changes {
		switch change.Action {
		case plugin.ActionDelete.String():
			deletes[change.Address] = change
		case plugin.ActionReplace.String():
			if state.Lookup(change.Address) != nil {
				deletes[change.Address] = change
			}
			creates = append(creates, step{change: change})
		case plugin.ActionCreate.String(), plugin.ActionUpdate.String():
			creates = append(creates, step{change: change})
		case plugin.ActionNoOp.String():
		default:
			return nil, fmt.Errorf("unknown action %q for %s", change.Action, change.Address)
		}
	}
	if len(deletes) == 0 {
		return creates, nil
	}

	dag, err := BuildDAGFromState(state.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to order deletions: %w", err)
	}

	removed := make(map[string]bool, len(deletes))
	for addr := range deletes {
		removed[addr] = true
	}

	// Destruction order visits dependents first, so every user of addr has
	// been classified by the time addr is.
	var early, late []step
	deferred := make(map[string]bool)
	for _, addr := range dag.DestructionOrder() {
		change, ok := deletes[addr]
		if !ok {
			continue
		}
		delete(deletes, addr)

		s := step{change: change, delete: true}
		if change.Action == plugin.ActionDelete.String() {
			for _, user := range dag.Dependents(addr) {
				if !removed[user] || deferred[user] {
					s.users = append(s.users, user)
				}
			}
		}
		if len(s.users) > 0 {
			s.deferred = true
			deferred[addr] = true
			logging.Debug("deferring delete until users are updated", "address", addr, "users", s.users)
			late = append(late, s)
			continue
		}
		early = append(early, s)
	}

	// Deletions of resources missing from state are no-ops, kept for reporting.
	rest := make([]string, 0, len(deletes))
	for addr := range deletes {
		rest = append(rest, addr)
	}
	sort.Strings(rest)
	for _, addr := range rest {
		early = append(early, step{change: deletes[addr], delete: true})
	}

	steps := append(early, creates...)
	return append(steps, late...), nil
}

func anyFailed(addrs []string, failed map[string]bool) bool {
	for _, addr := range addrs {
		if failed[addr] {
			return true
		}
	}
	return false
}

func dependsOnFailed(res *ir.Resource, failed map[string]bool) bool {
	if res == nil || len(failed) == 0 {
		return false
	}
	for _, dep := range resourceDeps(res) {
		if failed[dep] {
			return true
		}
	}
	return false
}

// resourceDeps is the sorted set of explicit and referenced dependencies.
func resourceDeps(res *ir.Resource) []string {
	deps := append([]string(nil), res.DependsOn...)
	for _, ref := range extractPtrRefs(res.Properties) {
		if addr := ptrRefToAddr(ref); addr != "" {
			deps = append(deps, addr)
		}
	}
	return dedupe(deps)
}

func (e *Engine) deleteResource(ctx context.Context, change *ir.ResourceChange, state *ir.State) error {
	addr := change.Address
	prior := state.Lookup(addr)
	if prior == nil {
		logging.Debug("resource already absent from state", "address", addr)
		return nil
	}
	logging.Debug("deleting resource", "address", addr, "action", change.Action)

	timeout := ""
	if change.Desired != nil {
		timeout = change.Desired.Timeout
	}
	ctx, cancel := WithTimeout(ctx, ParseTimeout(timeout))
	defer cancel()

	provName := providerName(prior.Type, prior.Provider)
	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	priorJSON, err := json.Marshal(prior.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal prior state for %s: %w", addr, err)
	}

	if err := prov.Delete(ctx, &plugin.DeleteRequest{
		Type:           prior.Type,
		Name:           prior.Name,
		PriorStateJSON: priorJSON,
	}); err != nil {
		return fmt.Errorf("delete failed for %s: %w", addr, err)
	}

	removeResource(state, addr)
	return nil
}

func (e *Engine) applyResource(ctx context.Context, change *ir.ResourceChange, state *ir.State) error {
	addr := change.Address
	res := change.Desired
	if res == nil {
		return fmt.Errorf("change %s for %s has no desired resource", change.Action, addr)
	}
	logging.Debug("applying change", "address", addr, "action", change.Action)

	ctx, cancel := WithTimeout(ctx, ParseTimeout(res.Timeout))
	defer cancel()

	props := normalizeValue(res.Properties)
	resolved, err := resolveReferences(props, state)
	if err != nil {
		return fmt.Errorf("apply failed for %s: %w", addr, err)
	}
	desiredJSON, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("failed to marshal properties for %s: %w", addr, err)
	}

	// Only in-place updates see the prior state; a replacement starts fresh.
	var priorJSON []byte
	if change.Action == plugin.ActionUpdate.String() {
		if prior := state.Lookup(addr); prior != nil {
			if priorJSON, err = json.Marshal(prior.Outputs); err != nil {
				return fmt.Errorf("failed to marshal prior state for %s: %w", addr, err)
			}
		}
	}

	provName := providerName(res.Type, res.Provider)
	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	resp, err := prov.Apply(ctx, &plugin.ApplyRequest{
		Type:              res.Type,
		Name:              res.Name,
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    priorJSON,
	})
	if err != nil {
		return fmt.Errorf("apply failed for %s: %w", addr, err)
	}

	var outputs map[string]any
	if len(resp.NewStateJSON) > 0 {
		if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
			return fmt.Errorf("failed to unmarshal state for %s: %w", addr, err)
		}
	}

	inputs, _ := props.(map[string]any)
	putResource(state, &ir.ResourceState{
		Type:         res.Type,
		Name:         res.Name,
		Provider:     provName,
		Inputs:       inputs,
		Outputs:      outputs,
		Dependencies: resourceDeps(res),
	})
	return nil
}

func putResource(state *ir.State, rs *ir.ResourceState) {
	addr := rs.Address()
	for i, existing := range state.Resources {
		if existing.Address() == addr {
			state.Resources[i] = rs
			return
		}
	}
	state.Resources = append(state.Resources, rs)
}

func removeResource(state *ir.State, addr string) {
	for i, existing := range state.Resources {
		if existing.Address() == addr {
			state.Resources = append(state.Resources[:i], state.Resources[i+1:]...)
			return
		}
	}
}

// UnresolvedError lists references that named no deployed attribute.
type UnresolvedError struct {
	Refs []string
}

func (e *UnresolvedError) Error() string {
	return "unresolved references: " + strings.Join(e.Refs, ", ")
}

// resolveReferences substitutes every ptr:// string with the referenced
// attribute, looked up in outputs first and then inputs.
func resolveReferences(val any, state *ir.State) (any, error) {
	var missing []string
	out := resolveValue(val, state, &missing)
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &UnresolvedError{Refs: dedupe(missing)}
	}
	return out, nil
}

func resolveValue(val any, state *ir.State, missing *[]string) any {
	switch v := val.(type) {
	case string:
		typ, name, attr, ok := ir.ParseRef(v)
		if !ok {
			if ir.IsRef(v) {
				*missing = append(*missing, v)
			}
			return v
		}
		res := state.Lookup(ir.Addr(typ, name))
		if res == nil {
			*missing = append(*missing, v)
			return v
		}
		if out, ok := res.Outputs[attr]; ok {
			return out
		}
		if in, ok := res.Inputs[attr]; ok {
			return in
		}
		*missing = append(*missing, v)
		return v
	case []string:
		newSlice := make([]any, len(v))
		for i, s := range v {
			newSlice[i] = resolveValue(s, state, missing)
		}
		return newSlice
	case map[string]string:
		newMap := make(map[string]any, len(v))
		for k, s := range v {
			newMap[k] = resolveValue(s, state, missing)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, v := range v {
			newMap[k] = resolveValue(v, state, missing)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, v := range v {
			newSlice[i] = resolveValue(v, state, missing)
		}
		return newSlice
	default:
		return v
	}
}

// resolveOutputs resolves stack outputs against the final state. Outputs
// whose references cannot be resolved are dropped with a warning.
func resolveOutputs(outputs map[string]any, state *ir.State) map[string]any {
	if len(outputs) == 0 {
		return nil
	}
	resolved := make(map[string]any, len(outputs))
	for k, v := range outputs {
		r, err := resolveReferences(normalizeValue(v), state)
		if err != nil {
			logging.Warn("output not resolved", "output", k, "error", err)
			continue
		}
		resolved[k] = r
	}
	return resolved
}
