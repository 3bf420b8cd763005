// Package topology declares the Splunk stack as a resource graph. Each
// variant is a plain function of Settings returning an *ir.Config; nothing is
// looked up or created until the engine applies the graph.
package topology

import (
	"encoding/json"
	"fmt"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/providers/aws"
)

const providerName = "aws"

// Minimal is a network and one instance that cannot be reached from the internet.
func Minimal(s Settings) (*ir.Config, error) {
	return build(s, VariantMinimal)
}

// LoadBalanced puts the instance behind an internet-facing HTTP balancer. Only
// the balancer may reach the application port.
func LoadBalanced(s Settings) (*ir.Config, error) {
	return build(s, VariantLoadBalanced)
}

// TLS terminates HTTPS at the balancer for the UI, event collector and
// management ports, redirects HTTP, and publishes the balancer under
// <subdomain>.<domainName> with a DNS-validated certificate.
func TLS(s Settings) (*ir.Config, error) {
	return build(s, VariantTLS)
}

// Build constructs the named variant, or s.Variant when variant is empty.
func Build(variant string, s Settings) (*ir.Config, error) {
	if variant == "" {
		variant = s.Variant
	}
	switch variant {
	case VariantMinimal:
		return Minimal(s)
	case VariantLoadBalanced:
		return LoadBalanced(s)
	case VariantTLS:
		return TLS(s)
	}
	return nil, fmt.Errorf("unknown variant %q", variant)
}

func build(s Settings, variant string) (*ir.Config, error) {
	s.Variant = variant
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	b := &builder{
		s:   s,
		cfg: &ir.Config{Stack: s.StackName, Variant: variant, Outputs: map[string]any{}},
	}

	if err := b.network(); err != nil {
		return nil, err
	}

	var groups []string
	if variant != VariantMinimal {
		groups = []string{ir.Ref(aws.TypeSecurityGroup, instanceGroup, "id")}
		b.securityGroups()
	}
	b.compute(groups)

	switch variant {
	case VariantLoadBalanced:
		b.loadBalancer()
		b.httpListener()
	case VariantTLS:
		b.loadBalancer()
		b.certificate()
		b.tlsListeners()
		b.aliasRecord()
	}

	if b.err != nil {
		return nil, b.err
	}
	return b.cfg, nil
}

type builder struct {
	s   Settings
	cfg *ir.Config
	err error

	publicSubnets []string
}

// add declares a resource whose properties are the JSON form of props, the
// same document the provider decodes at apply time.
func (b *builder) add(typ, name string, props any, dependsOn ...string) *ir.Resource {
	res := &ir.Resource{
		Type:      typ,
		Name:      name,
		Provider:  providerName,
		DependsOn: dependsOn,
	}
	properties, err := toProperties(props)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("%s: %w", res.Address(), err)
	}
	res.Properties = properties
	b.cfg.Resources = append(b.cfg.Resources, res)
	return res
}

func (b *builder) output(name string, value any) {
	b.cfg.Outputs[name] = value
}

func toProperties(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// tags are the user tags plus a Name and the owning stack.
func (b *builder) tags(name string) map[string]string {
	out := make(map[string]string, len(b.s.Tags)+2)
	for k, v := range b.s.Tags {
		out[k] = v
	}
	out["Name"] = b.s.StackName + "-" + name
	out["splunkstack:stack"] = b.s.StackName
	return out
}
