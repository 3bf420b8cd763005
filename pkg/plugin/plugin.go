// Package plugin defines the contract between the deploy engine and the
// resource providers. Desired configuration and state cross the boundary as
// JSON documents so providers own their own schemas.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Action is the change a provider proposes for one resource.
type Action int

const (
	ActionNoOp Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionUpdate:
		return "UPDATE"
	case ActionReplace:
		return "REPLACE"
	case ActionDelete:
		return "DELETE"
	default:
		return "NOOP"
	}
}

// ParseAction is the inverse of Action.String.
func ParseAction(s string) (Action, error) {
	switch s {
	case "NOOP":
		return ActionNoOp, nil
	case "CREATE":
		return ActionCreate, nil
	case "UPDATE":
		return ActionUpdate, nil
	case "REPLACE":
		return ActionReplace, nil
	case "DELETE":
		return ActionDelete, nil
	}
	return ActionNoOp, fmt.Errorf("unknown action %q", s)
}

type PlanRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorInputsJSON   []byte // nil when the resource has never been applied
	PriorStateJSON    []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
	// RequiresReplace is the subset of ChangedAttributes that forced a replace.
	RequiresReplace []string
}

type ApplyRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte // references already resolved
	PriorStateJSON    []byte // set for in-place updates only
}

type ApplyResponse struct {
	NewStateJSON []byte
}

type DeleteRequest struct {
	Type           string
	Name           string
	PriorStateJSON []byte
}

// Provider manages the lifecycle of a family of resource types.
type Provider interface {
	Configure(ctx context.Context, cfg map[string]string) error
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) error
}

// ChangedAttributes returns the sorted top-level keys whose values differ
// between two JSON objects.
func ChangedAttributes(desired, prior []byte) ([]string, error) {
	var d, p map[string]any
	if err := json.Unmarshal(desired, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if len(prior) > 0 {
		if err := json.Unmarshal(prior, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior inputs: %w", err)
		}
	}

	seen := make(map[string]bool)
	var changed []string
	for k, v := range d {
		seen[k] = true
		if !sameJSON(v, p[k]) {
			changed = append(changed, k)
		}
	}
	for k := range p {
		if !seen[k] {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func sameJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}

// PlanByAttributes is the common planning rule: create when there is no prior,
// no-op when nothing changed, replace when any changed attribute is in
// forceNew (or forceNew is nil), and update otherwise.
func PlanByAttributes(req *PlanRequest, forceNew map[string]bool) (*PlanResponse, error) {
	if req.PriorInputsJSON == nil {
		return &PlanResponse{Action: ActionCreate}, nil
	}
	changed, err := ChangedAttributes(req.DesiredConfigJSON, req.PriorInputsJSON)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return &PlanResponse{Action: ActionNoOp}, nil
	}
	resp := &PlanResponse{Action: ActionUpdate, ChangedAttributes: changed}
	for _, attr := range changed {
		if forceNew == nil || forceNew[attr] {
			resp.RequiresReplace = append(resp.RequiresReplace, attr)
		}
	}
	if len(resp.RequiresReplace) > 0 {
		resp.Action = ActionReplace
	}
	return resp, nil
}
