// Package null implements a provider whose resources exist only in state.
// The engine tests and dry runs use it in place of a cloud provider.
package null

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

type Provider struct {
	mu      sync.Mutex
	applied []string
	deleted []string
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, cfg map[string]string) error {
	return nil
}

// Plan replaces the resource whenever its triggers change.
func (p *Provider) Plan(ctx context.Context, req *plugin.PlanRequest) (*plugin.PlanResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorInputsJSON == nil {
		return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
	}

	var prior Config
	if err := json.Unmarshal(req.PriorInputsJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior inputs: %w", err)
	}

	if !equal(desired.Triggers, prior.Triggers) {
		return &plugin.PlanResponse{
			Action:            plugin.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}
	return &plugin.PlanResponse{Action: plugin.ActionNoOp}, nil
}

// Apply echoes the triggers back as state with a synthetic id.
func (p *Provider) Apply(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.applied = append(p.applied, req.Name)
	p.mu.Unlock()

	return &plugin.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *plugin.DeleteRequest) error {
	p.mu.Lock()
	p.deleted = append(p.deleted, req.Name)
	p.mu.Unlock()
	return nil
}

// Applied returns resource names in the order Apply saw them.
func (p *Provider) Applied() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

// Deleted returns resource names in the order Delete saw them.
func (p *Provider) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
