package topology

import (
	"encoding/json"
	"testing"

	"github.com/picklr-io/splunk-stack/internal/engine"
	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/providers/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsFor(variant string) Settings {
	s := tlsSettings()
	s.Variant = variant
	return s
}

func mustBuild(t *testing.T, variant string) *ir.Config {
	t.Helper()
	cfg, err := Build(variant, settingsFor(variant))
	require.NoError(t, err)
	return cfg
}

func TestBuild_VariantsVerify(t *testing.T) {
	for _, variant := range Variants {
		t.Run(variant, func(t *testing.T) {
			cfg := mustBuild(t, variant)
			assert.Equal(t, variant, cfg.Variant)
			assert.Equal(t, "splunk", cfg.Stack)
			assert.Empty(t, Verify(variant, cfg))

			dag, err := engine.BuildDAG(cfg.Resources)
			require.NoError(t, err)
			assert.Len(t, dag.CreationOrder(), len(cfg.Resources))
		})
	}
}

func TestMinimal(t *testing.T) {
	cfg, err := Minimal(DefaultSettings())
	require.NoError(t, err)

	assert.Len(t, cfg.OfType(aws.TypeVpc), 1)
	assert.Len(t, cfg.OfType(aws.TypeInstance), 1)
	assert.Len(t, cfg.OfType(aws.TypeSubnet), 4)
	assert.Len(t, cfg.OfType(aws.TypeNatGateway), 2)
	assert.Len(t, cfg.OfType(aws.TypeRouteTable), 3)
	assert.Empty(t, cfg.OfType(aws.TypeLoadBalancer))
	assert.Empty(t, cfg.OfType(aws.TypeSecurityGroup))

	instance := cfg.Find("aws:EC2.Instance.splunk")
	require.NotNil(t, instance)
	assert.Equal(t, "t2.micro", instance.Properties["instanceType"])
	assert.Equal(t, "ptr://aws:EC2.Subnet/private-0/id", instance.Properties["subnetId"])
	assert.Equal(t, "ptr://aws:EC2.ImageLookup/splunk/imageId", instance.Properties["ami"])
	assert.NotContains(t, instance.Properties, "securityGroupIds")

	lookup := cfg.Find("aws:EC2.ImageLookup.splunk")
	require.NotNil(t, lookup)
	assert.Equal(t, "splunk_AMI_8.2.0_2021*", lookup.Properties["namePattern"])

	vpc := cfg.Find("aws:EC2.Vpc.vpc")
	require.NotNil(t, vpc)
	assert.Equal(t, "10.0.0.0/16", vpc.Properties["cidrBlock"])
	tags, ok := vpc.Properties["tags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "splunk-vpc", tags["Name"])

	assert.Equal(t, "ptr://aws:EC2.Instance/splunk/id", cfg.Outputs["instanceId"])
	assert.NotContains(t, cfg.Outputs, "loadBalancerDns")
}

func TestMinimal_ZoneCount(t *testing.T) {
	s := DefaultSettings()
	s.MaxAzs = 1
	cfg, err := Minimal(s)
	require.NoError(t, err)
	assert.Len(t, cfg.OfType(aws.TypeSubnet), 2)
	assert.Len(t, cfg.OfType(aws.TypeElasticIP), 1)
	assert.Empty(t, Verify(VariantMinimal, cfg))
}

func TestLoadBalanced(t *testing.T) {
	cfg, err := LoadBalanced(DefaultSettings())
	require.NoError(t, err)

	listeners := cfg.OfType(aws.TypeListener)
	require.Len(t, listeners, 1)
	assert.Equal(t, float64(80), listeners[0].Properties["port"])
	assert.Equal(t, "HTTP", listeners[0].Properties["protocol"])

	tg := cfg.Find("aws:ELBv2.TargetGroup.http")
	require.NotNil(t, tg)
	assert.Equal(t, float64(8000), tg.Properties["port"])
	assert.Equal(t, "splunk-8000", tg.Properties["name"])

	rule := cfg.Find("aws:EC2.SecurityGroupIngress.instance-from-lb-8000")
	require.NotNil(t, rule)
	assert.Equal(t, "ptr://aws:EC2.SecurityGroup/lb/id", rule.Properties["sourceSecurityGroupId"])
	assert.NotContains(t, rule.Properties, "cidrIp")

	lb := cfg.Find("aws:ELBv2.LoadBalancer.lb")
	require.NotNil(t, lb)
	assert.Equal(t, []any{"ptr://aws:EC2.Subnet/public-0/id", "ptr://aws:EC2.Subnet/public-1/id"}, lb.Properties["subnets"])

	assert.Empty(t, cfg.OfType(aws.TypeCertificate))
	assert.Equal(t, "ptr://aws:ELBv2.LoadBalancer/lb/dnsName", cfg.Outputs["loadBalancerDns"])
}

func TestTLS(t *testing.T) {
	cfg, err := TLS(settingsFor(VariantTLS))
	require.NoError(t, err)

	var https []*ir.Resource
	for _, l := range cfg.OfType(aws.TypeListener) {
		if l.Properties["protocol"] == "HTTPS" {
			https = append(https, l)
		}
	}
	require.Len(t, https, 3)
	for _, l := range https {
		assert.Equal(t, "ptr://aws:ACM.CertificateValidation/cert/certificateArn", l.Properties["certificateArn"])
	}

	redirect := cfg.Find("aws:ELBv2.Listener.http")
	require.NotNil(t, redirect)
	actions, ok := redirect.Properties["defaultActions"].([]any)
	require.True(t, ok)
	require.Len(t, actions, 1)
	assert.Equal(t, map[string]any{"type": "redirect", "protocol": "HTTPS", "port": float64(443), "statusCode": "HTTP_301"}, actions[0])

	for _, port := range []string{"8000", "8088", "8089"} {
		assert.NotNil(t, cfg.Find("aws:EC2.SecurityGroupIngress.instance-from-lb-"+port), port)
	}

	cert := cfg.Find("aws:ACM.Certificate.cert")
	require.NotNil(t, cert)
	assert.Equal(t, "splunk.example.com", cert.Properties["domainName"])
	assert.Equal(t, "DNS", cert.Properties["validationMethod"])

	record := cfg.Find("aws:Route53.RecordSet.alias")
	require.NotNil(t, record)
	assert.Equal(t, "splunk.example.com", record.Properties["name"])
	alias, ok := record.Properties["alias"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ptr://aws:ELBv2.LoadBalancer/lb/dnsName", alias["dnsName"])

	assert.Equal(t, "https://splunk.example.com", cfg.Outputs["url"])
	assert.Equal(t, "45m", cfg.Find("aws:ACM.CertificateValidation.cert").Timeout)
}

func TestTLS_ListenersWaitForCertificate(t *testing.T) {
	cfg := mustBuild(t, VariantTLS)
	dag, err := engine.BuildDAG(cfg.Resources)
	require.NoError(t, err)

	deps := dag.TransitiveDeps("aws:ELBv2.Listener.https")
	assert.Contains(t, deps, "aws:ACM.CertificateValidation.cert")
	assert.Contains(t, deps, "aws:ACM.Certificate.cert")
	assert.Contains(t, deps, "aws:Route53.HostedZoneLookup.zone")

	deps = dag.TransitiveDeps("aws:Route53.RecordSet.alias")
	assert.Contains(t, deps, "aws:ELBv2.LoadBalancer.lb")
}

func TestBuild_Idempotent(t *testing.T) {
	for _, variant := range Variants {
		first, err := json.Marshal(mustBuild(t, variant))
		require.NoError(t, err)
		second, err := json.Marshal(mustBuild(t, variant))
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(second), variant)
	}
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build("canary", DefaultSettings())
	assert.ErrorContains(t, err, `unknown variant "canary"`)

	_, err = TLS(DefaultSettings())
	assert.ErrorContains(t, err, "domainName is required")

	s := DefaultSettings()
	s.Variant = VariantLoadBalanced
	cfg, err := Build("", s)
	require.NoError(t, err)
	assert.Equal(t, VariantLoadBalanced, cfg.Variant)
}

func TestBuild_UserTags(t *testing.T) {
	s := DefaultSettings()
	s.Tags = map[string]string{"team": "observability"}
	cfg, err := Minimal(s)
	require.NoError(t, err)

	tags := cfg.Find("aws:EC2.Instance.splunk").Properties["tags"].(map[string]any)
	assert.Equal(t, "observability", tags["team"])
	assert.Equal(t, "splunk", tags["splunkstack:stack"])
	assert.Equal(t, "splunk-splunk", tags["Name"])
}
