package engine

import (
	"context"
	"testing"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/internal/provider"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
	"github.com/picklr-io/splunk-stack/providers/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider(context.Background(), "null"))
	return NewEngine(reg)
}

func nullResource(name string, triggers map[string]any, props ...map[string]any) *ir.Resource {
	p := map[string]any{"triggers": triggers}
	for _, extra := range props {
		for k, v := range extra {
			p[k] = v
		}
	}
	return &ir.Resource{Type: "null_resource", Name: name, Provider: "null", Properties: p}
}

func deployed(name string, inputs map[string]any, deps ...string) *ir.ResourceState {
	return &ir.ResourceState{
		Type:         "null_resource",
		Name:         name,
		Provider:     "null",
		Inputs:       inputs,
		Outputs:      map[string]any{"id": "null-" + name, "triggers": inputs["triggers"]},
		Dependencies: deps,
	}
}

func TestEngine_CreatePlan(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// 1. Plan creation (New resource)
	cfg := &ir.Config{
		Stack:     "splunk",
		Variant:   "minimal",
		Resources: []*ir.Resource{nullResource("test1", map[string]any{"a": "b"})},
	}

	plan, err := eng.CreatePlan(ctx, cfg, &ir.State{})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "CREATE", plan.Changes[0].Action)
	assert.Equal(t, "null_resource.test1", plan.Changes[0].Address)
	assert.Contains(t, plan.Changes[0].Diff, "triggers")
	assert.Equal(t, "splunk", plan.Metadata.Stack)
	assert.Equal(t, "minimal", plan.Metadata.Variant)
	assert.NotEmpty(t, plan.Metadata.Timestamp)

	// 2. Plan update (No-op)
	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("test1", map[string]any{"triggers": map[string]any{"a": "b"}}),
	}}

	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 0)
	assert.Equal(t, 1, plan.Summary.NoOp)

	// 3. Plan replace (Change trigger)
	cfg.Resources[0].Properties["triggers"] = map[string]any{"a": "c"}

	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "REPLACE", plan.Changes[0].Action)
	require.Contains(t, plan.Changes[0].Diff, "triggers")
	assert.Equal(t, "update", plan.Changes[0].Diff["triggers"].Action)
}

func TestEngine_CreatePlan_Delete(t *testing.T) {
	eng := newTestEngine(t)

	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("old_resource", map[string]any{}),
	}}

	plan, err := eng.CreatePlan(context.Background(), &ir.Config{}, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "DELETE", plan.Changes[0].Action)
	assert.Equal(t, "null_resource.old_resource", plan.Changes[0].Address)
	assert.Equal(t, 1, plan.Summary.Delete)
}

func TestEngine_CreatePlan_DeleteOrder(t *testing.T) {
	eng := newTestEngine(t)

	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("vpc", map[string]any{}),
		deployed("subnet", map[string]any{}, "null_resource.vpc"),
		deployed("instance", map[string]any{}, "null_resource.subnet"),
	}}

	plan, err := eng.CreatePlan(context.Background(), &ir.Config{}, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 3)
	assert.Equal(t, "null_resource.instance", plan.Changes[0].Address)
	assert.Equal(t, "null_resource.subnet", plan.Changes[1].Address)
	assert.Equal(t, "null_resource.vpc", plan.Changes[2].Address)
}

func TestEngine_CreatePlan_PreventDestroy(t *testing.T) {
	eng := newTestEngine(t)

	res := nullResource("protected", map[string]any{"a": "new_value"})
	res.Lifecycle = &ir.Lifecycle{PreventDestroy: true}
	cfg := &ir.Config{Resources: []*ir.Resource{res}}

	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("protected", map[string]any{"triggers": map[string]any{"a": "old_value"}}),
	}}

	// REPLACE triggers PreventDestroy error
	_, err := eng.CreatePlan(context.Background(), cfg, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
}

func TestEngine_CreatePlan_IgnoreChanges(t *testing.T) {
	eng := newTestEngine(t)

	res := nullResource("ignored", map[string]any{"a": "new_value"})
	res.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"triggers"}}
	cfg := &ir.Config{Resources: []*ir.Resource{res}}

	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("ignored", map[string]any{"triggers": map[string]any{"a": "old_value"}}),
	}}

	// The null provider replaces on trigger changes, and IgnoreChanges only
	// downgrades updates.
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "REPLACE", plan.Changes[0].Action)
}

func TestEngine_CreatePlan_DependencyOrder(t *testing.T) {
	eng := newTestEngine(t)

	second := nullResource("second", map[string]any{"x": "y"})
	second.DependsOn = []string{"null_resource.first"}
	cfg := &ir.Config{Resources: []*ir.Resource{second, nullResource("first", map[string]any{"x": "y"})}}

	plan, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "null_resource.first", plan.Changes[0].Address)
	assert.Equal(t, "null_resource.second", plan.Changes[1].Address)
}

func TestEngine_CreatePlan_ReplaceCascades(t *testing.T) {
	eng := newTestEngine(t)

	lookup := nullResource("image", map[string]any{"pattern": "splunk_2022*"})
	instance := nullResource("instance", map[string]any{}, map[string]any{"ami": "ptr://null_resource/image/id"})
	unrelated := nullResource("unrelated", map[string]any{})
	cfg := &ir.Config{Resources: []*ir.Resource{lookup, instance, unrelated}}

	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("image", map[string]any{"triggers": map[string]any{"pattern": "splunk_2021*"}}),
		deployed("instance", map[string]any{"triggers": map[string]any{}, "ami": "ptr://null_resource/image/id"}, "null_resource.image"),
		deployed("unrelated", map[string]any{"triggers": map[string]any{}}),
	}}

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "null_resource.image", plan.Changes[0].Address)
	assert.Equal(t, "REPLACE", plan.Changes[0].Action)
	assert.Equal(t, "null_resource.instance", plan.Changes[1].Address)
	assert.Equal(t, "REPLACE", plan.Changes[1].Action)
	assert.Equal(t, 2, plan.Summary.Replace)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

// goneProvider plans CREATE for the named deployed resources, the way the
// aws provider does for an instance terminated outside the tool.
type goneProvider struct {
	*null.Provider
	gone map[string]bool
}

func (p *goneProvider) Plan(ctx context.Context, req *plugin.PlanRequest) (*plugin.PlanResponse, error) {
	if p.gone[req.Name] {
		return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
	}
	return p.Provider.Plan(ctx, req)
}

func TestEngine_CreatePlan_RecreateCascades(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register("null", &goneProvider{Provider: null.New(), gone: map[string]bool{"instance": true}})
	eng := NewEngine(reg)

	instance := nullResource("instance", map[string]any{})
	targets := nullResource("targets", map[string]any{}, map[string]any{"target": "ptr://null_resource/instance/id"})
	cfg := &ir.Config{Resources: []*ir.Resource{instance, targets}}
	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("instance", map[string]any{"triggers": map[string]any{}}),
		deployed("targets", map[string]any{"triggers": map[string]any{}, "target": "ptr://null_resource/instance/id"}, "null_resource.instance"),
	}}

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "CREATE", plan.Changes[0].Action)
	assert.Equal(t, "null_resource.targets", plan.Changes[1].Address)
	assert.Equal(t, "REPLACE", plan.Changes[1].Action)
	assert.Equal(t, 1, plan.Summary.Create)
	assert.Equal(t, 1, plan.Summary.Replace)

	// A first-time create does not disturb deployed dependents.
	fresh := &ir.State{Resources: []*ir.ResourceState{
		deployed("targets", map[string]any{"triggers": map[string]any{}, "target": "ptr://null_resource/instance/id"}),
	}}
	plan, err = NewEngine(newNullRegistry(t)).CreatePlan(context.Background(), cfg, fresh)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "null_resource.instance", plan.Changes[0].Address)
}

func newNullRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider(context.Background(), "null"))
	return reg
}

func TestEngine_CreatePlan_CascadeRespectsPreventDestroy(t *testing.T) {
	eng := newTestEngine(t)

	base := nullResource("base", map[string]any{"v": "2"})
	dependent := nullResource("dependent", map[string]any{})
	dependent.DependsOn = []string{"null_resource.base"}
	dependent.Lifecycle = &ir.Lifecycle{PreventDestroy: true}

	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("base", map[string]any{"triggers": map[string]any{"v": "1"}}),
		deployed("dependent", map[string]any{"triggers": map[string]any{}}, "null_resource.base"),
	}}

	_, err := eng.CreatePlan(context.Background(), &ir.Config{Resources: []*ir.Resource{base, dependent}}, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null_resource.dependent")
}

func TestEngine_CreatePlanWithTargets(t *testing.T) {
	eng := newTestEngine(t)

	b := nullResource("b", map[string]any{})
	b.DependsOn = []string{"null_resource.a"}
	cfg := &ir.Config{Resources: []*ir.Resource{nullResource("a", map[string]any{}), b, nullResource("c", map[string]any{})}}

	plan, err := eng.CreatePlanWithTargets(context.Background(), cfg, &ir.State{}, []string{"null_resource.b"})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "null_resource.a", plan.Changes[0].Address)
	assert.Equal(t, "null_resource.b", plan.Changes[1].Address)
	assert.Equal(t, 1, plan.Summary.NoOp)

	_, err = eng.CreatePlanWithTargets(context.Background(), cfg, &ir.State{}, []string{"null_resource.zzz"})
	require.Error(t, err)
}

func TestEngine_CreatePlan_UnknownProvider(t *testing.T) {
	eng := newTestEngine(t)
	cfg := &ir.Config{Resources: []*ir.Resource{{Type: "gcp:Compute.Instance", Name: "x"}}}

	_, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcp")
}

func TestEngine_CreateDestroyPlan(t *testing.T) {
	eng := newTestEngine(t)

	state := &ir.State{Resources: []*ir.ResourceState{
		deployed("vpc", map[string]any{}),
		deployed("instance", map[string]any{}, "null_resource.vpc"),
	}}

	plan, err := eng.CreateDestroyPlan(context.Background(), nil, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "null_resource.instance", plan.Changes[0].Address)
	assert.Equal(t, "null_resource.vpc", plan.Changes[1].Address)
	assert.Equal(t, 2, plan.Summary.Delete)

	protected := nullResource("vpc", map[string]any{})
	protected.Lifecycle = &ir.Lifecycle{PreventDestroy: true}
	_, err = eng.CreateDestroyPlan(context.Background(), &ir.Config{Resources: []*ir.Resource{protected}}, state)
	require.Error(t, err)

	plan, err = eng.CreateDestroyPlan(context.Background(), nil, &ir.State{})
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
}

func TestBuildPropertyDiff(t *testing.T) {
	diff := buildPropertyDiff(
		map[string]any{"ami": "ami-1", "tags": map[string]any{"a": "b"}, "gone": 1},
		map[string]any{"ami": "ami-2", "tags": map[string]any{"a": "b"}, "new": []string{"x"}},
		[]string{"ami"},
	)

	require.Len(t, diff, 3)
	assert.Equal(t, "update", diff["ami"].Action)
	assert.True(t, diff["ami"].ForcesReplacement)
	assert.Equal(t, "delete", diff["gone"].Action)
	assert.Equal(t, "create", diff["new"].Action)
	assert.NotContains(t, diff, "tags")
}

func TestProviderName(t *testing.T) {
	assert.Equal(t, "aws", providerName("aws:EC2.Vpc", ""))
	assert.Equal(t, "null", providerName("null_resource", ""))
	assert.Equal(t, "custom", providerName("aws:EC2.Vpc", "custom"))
}
