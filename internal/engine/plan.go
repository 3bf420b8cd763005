package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/internal/logging"
	"github.com/picklr-io/splunk-stack/internal/provider"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry        *provider.Registry
	ContinueOnError bool // If true, apply continues past failures, skipping dependents of failed resources
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// providerName is the declared provider, else the type's prefix before ':'.
func providerName(typ, declared string) string {
	if declared != "" {
		return declared
	}
	if i := strings.Index(typ, ":"); i > 0 {
		return typ[:i]
	}
	return "null"
}

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource addresses.
// If targets is nil or empty, all resources are planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Stack:     cfg.Stack,
			Variant:   cfg.Variant,
			Serial:    state.Serial,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	for _, res := range cfg.Resources {
		name := providerName(res.Type, res.Provider)
		if err := e.registry.LoadProvider(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", name, err)
		}
	}

	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	stateMap := make(map[string]*ir.ResourceState, len(state.Resources))
	for _, res := range state.Resources {
		stateMap[res.Address()] = res
	}
	configByAddr := make(map[string]*ir.Resource, len(cfg.Resources))
	for _, res := range cfg.Resources {
		configByAddr[res.Address()] = res
	}

	// Targets pull in their dependencies.
	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			if _, ok := configByAddr[t]; !ok && stateMap[t] == nil {
				return nil, fmt.Errorf("target %s is not declared or deployed", t)
			}
			targetSet[t] = true
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	actions := make(map[string]plugin.Action, len(cfg.Resources))

	for _, addr := range dag.CreationOrder() {
		res := configByAddr[addr]

		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		prov, err := e.registry.Get(providerName(res.Type, res.Provider))
		if err != nil {
			return nil, err
		}

		desiredJSON, err := json.Marshal(normalizeValue(res.Properties))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", addr, err)
		}

		req := &plugin.PlanRequest{Type: res.Type, Name: res.Name, DesiredConfigJSON: desiredJSON}
		prior := stateMap[addr]
		if prior != nil {
			if req.PriorInputsJSON, err = json.Marshal(normalizeValue(prior.Inputs)); err != nil {
				return nil, fmt.Errorf("failed to marshal prior inputs for %s: %w", addr, err)
			}
			if req.PriorStateJSON, err = json.Marshal(prior.Outputs); err != nil {
				return nil, fmt.Errorf("failed to marshal prior state for %s: %w", addr, err)
			}
		}

		resp, err := prov.Plan(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		action := resp.Action
		if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == plugin.ActionUpdate {
			action = filterIgnoredChanges(res, resp, prior)
		}

		// A deployed resource is rebuilt when anything it depends on is rebuilt:
		// the old dependency cannot be deleted while this one still uses it,
		// and a recreated one (gone outside the tool) has new identifiers.
		if prior != nil && action != plugin.ActionReplace && action != plugin.ActionCreate {
			for _, dep := range dag.Dependencies(addr) {
				if rebuilt(actions[dep], stateMap[dep] != nil) {
					logging.Debug("replacement cascades", "address", addr, "because", dep)
					action = plugin.ActionReplace
					break
				}
			}
		}
		actions[addr] = action

		if action == plugin.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}

		if err := enforceLifecycle(res, action, addr); err != nil {
			return nil, err
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  action.String(),
			Desired: res,
		}
		if prior != nil {
			change.Prior = priorResource(prior)
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties, resp.RequiresReplace)
		} else {
			change.Diff = buildCreateDiff(res.Properties)
		}
		plan.Changes = append(plan.Changes, change)
		countAction(plan.Summary, action)
	}

	// Deployed resources no longer declared are deleted, dependents first.
	if len(state.Resources) > 0 {
		stateDAG, err := BuildDAGFromState(state.Resources)
		if err != nil {
			return nil, fmt.Errorf("failed to build state dependency graph: %w", err)
		}
		for _, addr := range stateDAG.DestructionOrder() {
			if _, declared := configByAddr[addr]; declared {
				continue
			}
			if targetSet != nil && !targetSet[addr] {
				continue
			}
			res := stateMap[addr]
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address: addr,
				Action:  plugin.ActionDelete.String(),
				Prior:   priorResource(res),
				Diff:    buildDeleteDiff(res.Inputs),
			})
			plan.Summary.Delete++
		}
	}

	return plan, nil
}

// CreateDestroyPlan plans the deletion of every deployed resource. When cfg
// is given, its prevent_destroy settings are honoured.
func (e *Engine) CreateDestroyPlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Stack:     state.Stack,
			Variant:   state.Variant,
			Serial:    state.Serial,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}
	if len(state.Resources) == 0 {
		return plan, nil
	}

	dag, err := BuildDAGFromState(state.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build state dependency graph: %w", err)
	}

	for _, addr := range dag.DestructionOrder() {
		res := state.Lookup(addr)
		if cfg != nil {
			if declared := cfg.Find(addr); declared != nil {
				if err := enforceLifecycle(declared, plugin.ActionDelete, addr); err != nil {
					return nil, err
				}
			}
		}
		name := providerName(res.Type, res.Provider)
		if err := e.registry.LoadProvider(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  plugin.ActionDelete.String(),
			Prior:   priorResource(res),
			Diff:    buildDeleteDiff(res.Inputs),
		})
		plan.Summary.Delete++
	}
	return plan, nil
}

// rebuilt reports whether action gives a deployed resource new identifiers.
func rebuilt(action plugin.Action, deployed bool) bool {
	return action == plugin.ActionReplace || (action == plugin.ActionCreate && deployed)
}

func priorResource(res *ir.ResourceState) *ir.Resource {
	return &ir.Resource{
		Type:       res.Type,
		Name:       res.Name,
		Provider:   res.Provider,
		DependsOn:  res.Dependencies,
		Properties: res.Inputs,
	}
}

func countAction(s *ir.PlanSummary, action plugin.Action) {
	switch action {
	case plugin.ActionCreate:
		s.Create++
	case plugin.ActionUpdate:
		s.Update++
	case plugin.ActionReplace:
		s.Replace++
	case plugin.ActionDelete:
		s.Delete++
	default:
		s.NoOp++
	}
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action plugin.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == plugin.ActionDelete || action == plugin.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges checks if all changed attributes are in IgnoreChanges.
// If so, downgrades the action to NOOP.
func filterIgnoredChanges(res *ir.Resource, resp *plugin.PlanResponse, prior *ir.ResourceState) plugin.Action {
	if prior == nil || res.Lifecycle == nil {
		return resp.Action
	}

	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}

	if len(resp.ChangedAttributes) > 0 {
		for _, attr := range resp.ChangedAttributes {
			if !ignoreSet[attr] {
				return resp.Action
			}
		}
		return plugin.ActionNoOp
	}

	return resp.Action
}

// buildPropertyDiff compares prior and desired properties and returns a diff map.
func buildPropertyDiff(prior, desired map[string]any, requiresReplace []string) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	forces := make(map[string]bool, len(requiresReplace))
	for _, attr := range requiresReplace {
		forces[attr] = true
	}

	keys := make([]string, 0, len(prior)+len(desired))
	for k := range prior {
		keys = append(keys, k)
	}
	for k := range desired {
		if _, ok := prior[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: "create", ForcesReplacement: forces[k]}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: "delete", ForcesReplacement: forces[k]}
		case !sameValue(priorVal, desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: "update", ForcesReplacement: forces[k]}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

// sameValue compares through JSON so []string and []any holding the same
// strings are equal.
func sameValue(a, b any) bool {
	ab, err1 := json.Marshal(normalizeValue(a))
	bb, err2 := json.Marshal(normalizeValue(b))
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
