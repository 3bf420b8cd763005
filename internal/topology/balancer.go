package topology

import (
	"fmt"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/providers/aws"
)

const (
	instanceGroup = "instance"
	balancerGroup = "lb"
	balancerName  = "lb"

	anywhere = "0.0.0.0/0"
)

// forward is one balancer port sending traffic to one instance port.
type forward struct {
	listener     string
	listenerPort int
	instancePort int
	healthCheck  string
}

func (b *builder) forwards() []forward {
	if b.s.Variant != VariantTLS {
		return []forward{{listener: "http", listenerPort: 80, instancePort: b.s.AppPort}}
	}
	return []forward{
		{listener: "https", listenerPort: 443, instancePort: b.s.AppPort},
		{listener: "collector", listenerPort: b.s.CollectorPort, instancePort: b.s.CollectorPort, healthCheck: "/services/collector/health"},
		{listener: "management", listenerPort: b.s.ManagementPort, instancePort: b.s.ManagementPort},
	}
}

// securityGroups declares the balancer and instance groups. The balancer
// accepts its listener ports from anywhere; the instance accepts each
// forwarded port from the balancer group alone.
func (b *builder) securityGroups() {
	vpcID := ir.Ref(aws.TypeVpc, vpcName, "id")
	b.add(aws.TypeSecurityGroup, balancerGroup, aws.SecurityGroupConfig{
		Name:        b.s.StackName + "-lb",
		Description: "Splunk load balancer",
		VpcID:       vpcID,
		Tags:        b.tags("lb"),
	})
	b.add(aws.TypeSecurityGroup, instanceGroup, aws.SecurityGroupConfig{
		Name:        b.s.StackName + "-instance",
		Description: "Splunk instance, reachable from the load balancer only",
		VpcID:       vpcID,
		Tags:        b.tags("instance"),
	})

	listenerPorts := []int{}
	if b.s.Variant == VariantTLS {
		listenerPorts = append(listenerPorts, 80)
	}
	for _, f := range b.forwards() {
		listenerPorts = append(listenerPorts, f.listenerPort)
	}
	for _, port := range listenerPorts {
		b.add(aws.TypeSecurityGroupIngress, fmt.Sprintf("lb-from-internet-%d", port), aws.SecurityGroupIngressConfig{
			GroupID:     ir.Ref(aws.TypeSecurityGroup, balancerGroup, "id"),
			Protocol:    "tcp",
			FromPort:    port,
			ToPort:      port,
			CidrIP:      anywhere,
			Description: fmt.Sprintf("internet to load balancer on %d", port),
		})
	}

	for _, f := range b.forwards() {
		b.add(aws.TypeSecurityGroupIngress, fmt.Sprintf("instance-from-lb-%d", f.instancePort), aws.SecurityGroupIngressConfig{
			GroupID:               ir.Ref(aws.TypeSecurityGroup, instanceGroup, "id"),
			Protocol:              "tcp",
			FromPort:              f.instancePort,
			ToPort:                f.instancePort,
			SourceSecurityGroupID: ir.Ref(aws.TypeSecurityGroup, balancerGroup, "id"),
			Description:           fmt.Sprintf("load balancer to instance on %d", f.instancePort),
		})
	}
}

// loadBalancer declares the internet-facing balancer and one target group
// per forwarded instance port, each registering the instance.
func (b *builder) loadBalancer() {
	b.add(aws.TypeLoadBalancer, balancerName, aws.LoadBalancerConfig{
		Name:           b.s.StackName + "-lb",
		Type:           "application",
		Scheme:         "internet-facing",
		Subnets:        b.publicSubnets,
		SecurityGroups: []string{ir.Ref(aws.TypeSecurityGroup, balancerGroup, "id")},
		Tags:           b.tags("lb"),
	}, ir.Addr(aws.TypeRouteTable, "public")).Timeout = "20m"

	for _, f := range b.forwards() {
		b.add(aws.TypeTargetGroup, f.listener, aws.TargetGroupConfig{
			Name:            fmt.Sprintf("%s-%d", b.s.StackName, f.instancePort),
			Port:            f.instancePort,
			Protocol:        "HTTP",
			VpcID:           ir.Ref(aws.TypeVpc, vpcName, "id"),
			TargetType:      "instance",
			HealthCheckPath: f.healthCheck,
			Targets: []aws.Target{{
				ID:   ir.Ref(aws.TypeInstance, instanceName, "id"),
				Port: f.instancePort,
			}},
		})
	}

	b.output("loadBalancerDns", ir.Ref(aws.TypeLoadBalancer, balancerName, "dnsName"))
}

func forwardTo(targetGroup string) []aws.ListenerAction {
	return []aws.ListenerAction{{
		Type:           "forward",
		TargetGroupArn: ir.Ref(aws.TypeTargetGroup, targetGroup, "arn"),
	}}
}

// httpListener forwards port 80 straight to the application port.
func (b *builder) httpListener() {
	f := b.forwards()[0]
	b.add(aws.TypeListener, f.listener, aws.ListenerConfig{
		LoadBalancerArn: ir.Ref(aws.TypeLoadBalancer, balancerName, "arn"),
		Port:            80,
		Protocol:        "HTTP",
		DefaultActions:  forwardTo(f.listener),
	})
}

// tlsListeners redirects port 80 to 443 and terminates TLS on every forwarded
// port with the validated certificate.
func (b *builder) tlsListeners() {
	lbArn := ir.Ref(aws.TypeLoadBalancer, balancerName, "arn")

	b.add(aws.TypeListener, "http", aws.ListenerConfig{
		LoadBalancerArn: lbArn,
		Port:            80,
		Protocol:        "HTTP",
		DefaultActions: []aws.ListenerAction{{
			Type:       "redirect",
			Protocol:   "HTTPS",
			Port:       443,
			StatusCode: "HTTP_301",
		}},
	})

	for _, f := range b.forwards() {
		b.add(aws.TypeListener, f.listener, aws.ListenerConfig{
			LoadBalancerArn: lbArn,
			Port:            f.listenerPort,
			Protocol:        "HTTPS",
			CertificateArn:  ir.Ref(aws.TypeCertificateValidation, certificateName, "certificateArn"),
			DefaultActions:  forwardTo(f.listener),
		})
	}
}
