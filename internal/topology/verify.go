package topology

import (
	"fmt"
	"strings"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/providers/aws"
)

// Violation is one broken structural property of a graph.
type Violation struct {
	Rule     string `json:"rule"`
	Resource string `json:"resource,omitempty"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	if v.Resource == "" {
		return v.Rule + ": " + v.Message
	}
	return v.Rule + ": " + v.Resource + ": " + v.Message
}

// Verify checks a graph against the properties its variant promises. It
// inspects declared properties and references only, so it works on any graph
// whether built here or loaded from a template.
func Verify(variant string, cfg *ir.Config) []Violation {
	c := &checker{cfg: cfg}

	instance := c.network()
	switch variant {
	case VariantMinimal:
		c.minimal()
	case VariantLoadBalanced:
		c.balanced(instance, 80)
		c.none("no-tls", aws.TypeCertificate)
	case VariantTLS:
		c.balanced(instance, 443)
		c.tls()
	default:
		c.fail("variant", "", "unknown variant %q", variant)
	}
	return c.violations
}

type checker struct {
	cfg        *ir.Config
	violations []Violation
}

func (c *checker) fail(rule, resource, format string, args ...any) {
	c.violations = append(c.violations, Violation{Rule: rule, Resource: resource, Message: fmt.Sprintf(format, args...)})
}

// one returns the single resource of typ, recording a violation otherwise.
func (c *checker) one(rule, typ string) *ir.Resource {
	found := c.cfg.OfType(typ)
	if len(found) != 1 {
		c.fail(rule, "", "want exactly one %s, found %d", typ, len(found))
		return nil
	}
	return found[0]
}

func (c *checker) none(rule, typ string) {
	if n := len(c.cfg.OfType(typ)); n > 0 {
		c.fail(rule, "", "want no %s, found %d", typ, n)
	}
}

// target returns the resource a reference property points at when it is of
// the wanted type.
func (c *checker) target(ref any, typ string) *ir.Resource {
	s, _ := ref.(string)
	refTyp, _, _, ok := ir.ParseRef(s)
	if !ok || refTyp != typ {
		return nil
	}
	return c.cfg.Find(ir.RefAddr(s))
}

// network checks the VPC and instance shared by every variant and returns
// the instance.
func (c *checker) network() *ir.Resource {
	vpc := c.one("network", aws.TypeVpc)
	if vpc != nil && num(vpc.Properties["maxAzs"]) < 1 {
		c.fail("network", vpc.Address(), "maxAzs must be at least 1")
	}

	instance := c.one("instance", aws.TypeInstance)
	if instance == nil {
		return nil
	}
	if c.target(instance.Properties["ami"], aws.TypeImageLookup) == nil {
		c.fail("instance", instance.Address(), "ami must reference an image lookup")
	}
	subnet := c.target(instance.Properties["subnetId"], aws.TypeSubnet)
	switch {
	case subnet == nil:
		c.fail("instance", instance.Address(), "subnetId must reference a declared subnet")
	case vpc != nil && c.target(subnet.Properties["vpcId"], aws.TypeVpc) != vpc:
		c.fail("instance", instance.Address(), "subnet %s is not in %s", subnet.Address(), vpc.Address())
	case subnet.Properties["mapPublicIpOnLaunch"] == true:
		c.fail("instance", instance.Address(), "subnet %s assigns public addresses", subnet.Address())
	}
	return instance
}

func (c *checker) minimal() {
	c.none("unreachable", aws.TypeLoadBalancer)
	c.none("unreachable", aws.TypeSecurityGroupIngress)
}

// balanced checks that the listener on frontPort forwards to the instance's
// application port and that only the balancer may reach that port.
func (c *checker) balanced(instance *ir.Resource, frontPort int) {
	lb := c.one("balancer", aws.TypeLoadBalancer)
	if lb == nil || instance == nil {
		return
	}
	if s, _ := lb.Properties["scheme"].(string); s != "internet-facing" {
		c.fail("balancer", lb.Address(), "scheme is %q, want internet-facing", s)
	}

	instanceGroups := refSet(instance.Properties["securityGroupIds"])
	balancerGroups := refSet(lb.Properties["securityGroups"])
	if len(instanceGroups) == 0 {
		c.fail("access", instance.Address(), "instance has no security group")
		return
	}

	var appPort int
	for _, l := range c.cfg.OfType(aws.TypeListener) {
		if c.target(l.Properties["loadBalancerArn"], aws.TypeLoadBalancer) != lb {
			c.fail("balancer", l.Address(), "listener is not attached to %s", lb.Address())
			continue
		}
		tg := c.forwardedGroup(l)
		if tg == nil {
			continue
		}
		port := num(tg.Properties["port"])
		if num(l.Properties["port"]) == frontPort {
			appPort = port
		}
		if !registers(tg, instance) {
			c.fail("balancer", tg.Address(), "target group does not register %s", instance.Address())
		}
		if c.countIngress(instanceGroups, balancerGroups, port, false) == 0 {
			c.fail("access", l.Address(), "instance does not accept port %d from the balancer", port)
		}
	}
	if appPort == 0 {
		c.fail("balancer", lb.Address(), "no listener on port %d forwards to the instance", frontPort)
		return
	}

	if n := c.countIngress(instanceGroups, balancerGroups, appPort, false); n != 1 {
		c.fail("access", "", "want exactly one rule from the balancer to the instance on %d, found %d", appPort, n)
	}
	if n := c.countIngress(instanceGroups, nil, appPort, true); n != 0 {
		c.fail("access", "", "%d rule(s) admit addresses to the instance on %d directly", n, appPort)
	}
}

func (c *checker) forwardedGroup(l *ir.Resource) *ir.Resource {
	for _, a := range list(l.Properties["defaultActions"]) {
		action, _ := a.(map[string]any)
		if action["type"] == "forward" {
			return c.target(action["targetGroupArn"], aws.TypeTargetGroup)
		}
	}
	return nil
}

// countIngress counts rules on groups covering port, either from one of the
// source groups or, when cidr is set, from an address range.
func (c *checker) countIngress(groups, sources map[string]bool, port int, cidr bool) int {
	n := 0
	for _, rule := range c.cfg.OfType(aws.TypeSecurityGroupIngress) {
		p := rule.Properties
		group, _ := p["groupId"].(string)
		if !groups[group] || !coversPort(p, port) {
			continue
		}
		if cidr {
			if s, _ := p["cidrIp"].(string); s != "" {
				n++
			}
			continue
		}
		if src, _ := p["sourceSecurityGroupId"].(string); sources[src] {
			n++
		}
	}
	return n
}

func (c *checker) tls() {
	cert := c.one("certificate", aws.TypeCertificate)
	record := c.one("dns", aws.TypeRecordSet)
	var lb *ir.Resource
	if lbs := c.cfg.OfType(aws.TypeLoadBalancer); len(lbs) == 1 {
		lb = lbs[0]
	}

	for _, l := range c.cfg.OfType(aws.TypeListener) {
		protocol, _ := l.Properties["protocol"].(string)
		switch protocol {
		case "HTTPS":
			if !c.certifies(l.Properties["certificateArn"], cert) {
				c.fail("certificate", l.Address(), "HTTPS listener must reference the certificate")
			}
		case "HTTP":
			if !redirectsToHTTPS(l) {
				c.fail("redirect", l.Address(), "HTTP listener must redirect to HTTPS")
			}
		}
	}

	if cert == nil || record == nil {
		return
	}
	domain, _ := cert.Properties["domainName"].(string)
	name, _ := record.Properties["name"].(string)
	if normalizeName(domain) != normalizeName(name) {
		c.fail("dns", record.Address(), "record name %q does not match certificate domain %q", name, domain)
	}
	if c.target(cert.Properties["hostedZoneId"], aws.TypeHostedZoneLookup) == nil {
		c.fail("certificate", cert.Address(), "certificate must be validated in a looked-up zone")
	}
	alias, _ := record.Properties["alias"].(map[string]any)
	if lb != nil && c.target(alias["dnsName"], aws.TypeLoadBalancer) != lb {
		c.fail("dns", record.Address(), "alias target must be %s", lb.Address())
	}
}

// certifies reports whether ref names cert directly or through its validation.
func (c *checker) certifies(ref any, cert *ir.Resource) bool {
	if cert == nil {
		return false
	}
	if c.target(ref, aws.TypeCertificate) == cert {
		return true
	}
	v := c.target(ref, aws.TypeCertificateValidation)
	return v != nil && c.target(v.Properties["certificateArn"], aws.TypeCertificate) == cert
}

func redirectsToHTTPS(l *ir.Resource) bool {
	for _, a := range list(l.Properties["defaultActions"]) {
		action, _ := a.(map[string]any)
		if action["type"] == "redirect" && action["protocol"] == "HTTPS" {
			return true
		}
	}
	return false
}

func registers(tg, instance *ir.Resource) bool {
	want := ir.Ref(instance.Type, instance.Name, "id")
	for _, t := range list(tg.Properties["targets"]) {
		target, _ := t.(map[string]any)
		if target["id"] == want {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSuffix(s, "."))
}

func list(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return nil
}

func refSet(v any) map[string]bool {
	set := make(map[string]bool)
	for _, item := range list(v) {
		if s, ok := item.(string); ok {
			set[s] = true
		}
	}
	return set
}

// num reads a number decoded from JSON, YAML or built in Go.
// coversPort reports whether an ingress rule admits port. Protocol "-1" and
// a -1 port range admit every port.
func coversPort(rule map[string]any, port int) bool {
	if protocol, _ := rule["protocol"].(string); protocol == "-1" {
		return true
	}
	from, to := num(rule["fromPort"]), num(rule["toPort"])
	if from == -1 || to == -1 {
		return true
	}
	return from <= port && port <= to
}

func num(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
