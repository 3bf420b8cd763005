package topology

import (
	"testing"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/providers/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rules(vs []Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func remove(cfg *ir.Config, addr string) {
	for i, res := range cfg.Resources {
		if res.Address() == addr {
			cfg.Resources = append(cfg.Resources[:i], cfg.Resources[i+1:]...)
			return
		}
	}
}

func TestVerify_Violations(t *testing.T) {
	tests := []struct {
		name    string
		variant string
		mutate  func(t *testing.T, cfg *ir.Config)
		want    string
	}{
		{
			name:    "second instance",
			variant: VariantMinimal,
			mutate: func(t *testing.T, cfg *ir.Config) {
				extra := *cfg.Find("aws:EC2.Instance.splunk")
				extra.Name = "spare"
				cfg.Resources = append(cfg.Resources, &extra)
			},
			want: "instance",
		},
		{
			name:    "instance in public subnet",
			variant: VariantMinimal,
			mutate: func(t *testing.T, cfg *ir.Config) {
				cfg.Find("aws:EC2.Instance.splunk").Properties["subnetId"] = "ptr://aws:EC2.Subnet/public-0/id"
			},
			want: "instance",
		},
		{
			name:    "instance with literal image",
			variant: VariantMinimal,
			mutate: func(t *testing.T, cfg *ir.Config) {
				cfg.Find("aws:EC2.Instance.splunk").Properties["ami"] = "ami-0123456789abcdef0"
			},
			want: "instance",
		},
		{
			name:    "minimal with balancer",
			variant: VariantMinimal,
			mutate: func(t *testing.T, cfg *ir.Config) {
				cfg.Resources = append(cfg.Resources, &ir.Resource{Type: aws.TypeLoadBalancer, Name: "lb"})
			},
			want: "unreachable",
		},
		{
			name:    "instance open to the internet",
			variant: VariantLoadBalanced,
			mutate: func(t *testing.T, cfg *ir.Config) {
				cfg.Resources = append(cfg.Resources, &ir.Resource{
					Type: aws.TypeSecurityGroupIngress,
					Name: "instance-from-internet",
					Properties: map[string]any{
						"groupId":  "ptr://aws:EC2.SecurityGroup/instance/id",
						"protocol": "tcp",
						"fromPort": float64(0),
						"toPort":   float64(65535),
						"cidrIp":   "0.0.0.0/0",
					},
				})
			},
			want: "access",
		},
		{
			name:    "instance open to all traffic",
			variant: VariantLoadBalanced,
			mutate: func(t *testing.T, cfg *ir.Config) {
				cfg.Resources = append(cfg.Resources, &ir.Resource{
					Type: aws.TypeSecurityGroupIngress,
					Name: "instance-all-traffic",
					Properties: map[string]any{
						"groupId":  "ptr://aws:EC2.SecurityGroup/instance/id",
						"protocol": "-1",
						"fromPort": float64(-1),
						"toPort":   float64(-1),
						"cidrIp":   "0.0.0.0/0",
					},
				})
			},
			want: "access",
		},
		{
			name:    "instance open on a wildcard port range",
			variant: VariantTLS,
			mutate: func(t *testing.T, cfg *ir.Config) {
				cfg.Resources = append(cfg.Resources, &ir.Resource{
					Type: aws.TypeSecurityGroupIngress,
					Name: "instance-any-port",
					Properties: map[string]any{
						"groupId":  "ptr://aws:EC2.SecurityGroup/instance/id",
						"protocol": "tcp",
						"fromPort": float64(-1),
						"toPort":   float64(-1),
						"cidrIp":   "10.0.0.0/8",
					},
				})
			},
			want: "access",
		},
		{
			name:    "duplicate balancer rule",
			variant: VariantLoadBalanced,
			mutate: func(t *testing.T, cfg *ir.Config) {
				dup := *cfg.Find("aws:EC2.SecurityGroupIngress.instance-from-lb-8000")
				dup.Name = "again"
				cfg.Resources = append(cfg.Resources, &dup)
			},
			want: "access",
		},
		{
			name:    "missing balancer rule",
			variant: VariantLoadBalanced,
			mutate: func(t *testing.T, cfg *ir.Config) {
				remove(cfg, "aws:EC2.SecurityGroupIngress.instance-from-lb-8000")
			},
			want: "access",
		},
		{
			name:    "https without certificate",
			variant: VariantTLS,
			mutate: func(t *testing.T, cfg *ir.Config) {
				delete(cfg.Find("aws:ELBv2.Listener.collector").Properties, "certificateArn")
			},
			want: "certificate",
		},
		{
			name:    "record name differs from certificate",
			variant: VariantTLS,
			mutate: func(t *testing.T, cfg *ir.Config) {
				cfg.Find("aws:Route53.RecordSet.alias").Properties["name"] = "logs.example.com"
			},
			want: "dns",
		},
		{
			name:    "alias not pointing at balancer",
			variant: VariantTLS,
			mutate: func(t *testing.T, cfg *ir.Config) {
				alias := cfg.Find("aws:Route53.RecordSet.alias").Properties["alias"].(map[string]any)
				alias["dnsName"] = "elsewhere.example.net"
			},
			want: "dns",
		},
		{
			name:    "plain http forward",
			variant: VariantTLS,
			mutate: func(t *testing.T, cfg *ir.Config) {
				cfg.Find("aws:ELBv2.Listener.http").Properties["defaultActions"] = []any{
					map[string]any{"type": "forward", "targetGroupArn": "ptr://aws:ELBv2.TargetGroup/https/arn"},
				}
			},
			want: "redirect",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustBuild(t, tt.variant)
			require.Empty(t, Verify(tt.variant, cfg))

			tt.mutate(t, cfg)
			violations := Verify(tt.variant, cfg)
			require.NotEmpty(t, violations)
			assert.Contains(t, rules(violations), tt.want, "%v", violations)
		})
	}
}

func TestVerify_WrongVariant(t *testing.T) {
	cfg := mustBuild(t, VariantMinimal)
	violations := Verify(VariantTLS, cfg)
	assert.Contains(t, rules(violations), "balancer")
	assert.Contains(t, rules(violations), "certificate")

	violations = Verify("canary", cfg)
	assert.Equal(t, []string{"variant"}, rules(violations))
}

func TestViolation_String(t *testing.T) {
	v := Violation{Rule: "dns", Resource: "aws:Route53.RecordSet.alias", Message: "alias target must be aws:ELBv2.LoadBalancer.lb"}
	assert.Equal(t, "dns: aws:Route53.RecordSet.alias: alias target must be aws:ELBv2.LoadBalancer.lb", v.String())
	assert.Equal(t, "network: want exactly one aws:EC2.Vpc, found 0", Violation{Rule: "network", Message: "want exactly one aws:EC2.Vpc, found 0"}.String())
}
