// Package synth renders a resource graph into a template document and reads
// templates back. Rendering is deterministic: the same graph always produces
// the same bytes.
package synth

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/picklr-io/splunk-stack/internal/engine"
	"github.com/picklr-io/splunk-stack/internal/ir"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Template is the synthesized form of a stack. Resources are keyed by
// address; Order lists the addresses in creation order.
type Template struct {
	Stack     string               `json:"stack" yaml:"stack"`
	Variant   string               `json:"variant" yaml:"variant"`
	Order     []string             `json:"order" yaml:"order"`
	Resources map[string]*Resource `json:"resources" yaml:"resources"`
	Outputs   map[string]any       `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Resource is one template entry. DependsOn holds every dependency the graph
// derives, explicit or through references.
type Resource struct {
	Type       string         `json:"type" yaml:"type"`
	Name       string         `json:"name" yaml:"name"`
	Provider   string         `json:"provider" yaml:"provider"`
	DependsOn  []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Timeout    string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Lifecycle  *ir.Lifecycle  `json:"lifecycle,omitempty" yaml:"lifecycle,omitempty"`
	Properties map[string]any `json:"properties" yaml:"properties"`
}

// Synthesize builds the template for cfg. It fails if the graph is not a DAG
// or references an undeclared resource.
func Synthesize(cfg *ir.Config) (*Template, error) {
	dag, err := engine.BuildDAG(cfg.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	tmpl := &Template{
		Stack:     cfg.Stack,
		Variant:   cfg.Variant,
		Order:     dag.CreationOrder(),
		Resources: make(map[string]*Resource, len(cfg.Resources)),
		Outputs:   cfg.Outputs,
	}
	for _, res := range cfg.Resources {
		addr := res.Address()
		tmpl.Resources[addr] = &Resource{
			Type:       res.Type,
			Name:       res.Name,
			Provider:   res.Provider,
			DependsOn:  dag.Dependencies(addr),
			Timeout:    res.Timeout,
			Lifecycle:  res.Lifecycle,
			Properties: res.Properties,
		}
	}
	return tmpl, nil
}

// Render encodes the template. Map keys are sorted by both encoders.
func Render(tmpl *Template, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		out, err := json.MarshalIndent(tmpl, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode template: %w", err)
		}
		return append(out, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(tmpl); err != nil {
			return nil, fmt.Errorf("failed to encode template: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode template: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown template format %q (want json or yaml)", format)
}

// Synth synthesizes and renders cfg in one step.
func Synth(cfg *ir.Config, format string) ([]byte, error) {
	tmpl, err := Synthesize(cfg)
	if err != nil {
		return nil, err
	}
	return Render(tmpl, format)
}

// Parse reads a rendered template back into a graph, resources in creation
// order. Dependencies are carried as explicit DependsOn.
func Parse(data []byte, format string) (*ir.Config, error) {
	var tmpl Template
	switch format {
	case FormatJSON, "":
		if err := json.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("failed to decode template: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("failed to decode template: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown template format %q (want json or yaml)", format)
	}

	if len(tmpl.Order) != len(tmpl.Resources) {
		return nil, fmt.Errorf("template order lists %d resources, found %d", len(tmpl.Order), len(tmpl.Resources))
	}

	cfg := &ir.Config{Stack: tmpl.Stack, Variant: tmpl.Variant, Outputs: tmpl.Outputs}
	for _, addr := range tmpl.Order {
		res, ok := tmpl.Resources[addr]
		if !ok {
			return nil, fmt.Errorf("template order names unknown resource %s", addr)
		}
		r := &ir.Resource{
			Type:       res.Type,
			Name:       res.Name,
			Provider:   res.Provider,
			DependsOn:  res.DependsOn,
			Timeout:    res.Timeout,
			Lifecycle:  res.Lifecycle,
			Properties: res.Properties,
		}
		if r.Address() != addr {
			return nil, fmt.Errorf("template resource %s is keyed as %s", r.Address(), addr)
		}
		cfg.Resources = append(cfg.Resources, r)
	}
	return cfg, nil
}
