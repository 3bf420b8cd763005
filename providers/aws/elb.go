package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

type LoadBalancerConfig struct {
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Scheme         string            `json:"scheme"`
	Subnets        []string          `json:"subnets"`
	SecurityGroups []string          `json:"securityGroups"`
	Tags           map[string]string `json:"tags,omitempty"`
}

type LoadBalancerState struct {
	Name                  string `json:"name"`
	ARN                   string `json:"arn"`
	DNSName               string `json:"dnsName"`
	CanonicalHostedZoneID string `json:"canonicalHostedZoneId"`
}

type Target struct {
	ID   string `json:"id"`
	Port int    `json:"port,omitempty"`
}

type TargetGroupConfig struct {
	Name            string   `json:"name"`
	Port            int      `json:"port"`
	Protocol        string   `json:"protocol"`
	VpcID           string   `json:"vpcId"`
	TargetType      string   `json:"targetType"`
	HealthCheckPath string   `json:"healthCheckPath,omitempty"`
	Targets         []Target `json:"targets,omitempty"`
}

type TargetGroupState struct {
	Name    string   `json:"name"`
	ARN     string   `json:"arn"`
	Targets []Target `json:"targets,omitempty"`
}

// ListenerAction is either a forward to a target group or a redirect.
type ListenerAction struct {
	Type           string `json:"type"`
	TargetGroupArn string `json:"targetGroupArn,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	Port           int    `json:"port,omitempty"`
	StatusCode     string `json:"statusCode,omitempty"`
}

type ListenerConfig struct {
	LoadBalancerArn string           `json:"loadBalancerArn"`
	Port            int              `json:"port"`
	Protocol        string           `json:"protocol"`
	CertificateArn  string           `json:"certificateArn,omitempty"`
	DefaultActions  []ListenerAction `json:"defaultActions"`
}

type ListenerState struct {
	ARN      string `json:"arn"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

func (p *Provider) applyLoadBalancer(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired LoadBalancerConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	var tags []types.Tag
	for _, t := range ec2Tags(desired.Tags) {
		tags = append(tags, types.Tag{Key: t.Key, Value: t.Value})
	}

	resp, err := p.clients.ELBv2.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           aws.String(desired.Name),
		Subnets:        desired.Subnets,
		SecurityGroups: desired.SecurityGroups,
		Scheme:         types.LoadBalancerSchemeEnum(desired.Scheme),
		Type:           types.LoadBalancerTypeEnum(desired.Type),
		Tags:           tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer: %w", err)
	}
	if len(resp.LoadBalancers) == 0 {
		return nil, fmt.Errorf("no load balancer returned for %s", desired.Name)
	}
	lb := resp.LoadBalancers[0]

	// Listeners can be attached before the balancer is active, but the alias
	// record should not point at a provisioning balancer.
	waiter := elbv2.NewLoadBalancerAvailableWaiter(p.clients.ELBv2)
	if err := waiter.Wait(ctx, &elbv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{aws.ToString(lb.LoadBalancerArn)},
	}, p.WaitTimeout); err != nil {
		return nil, fmt.Errorf("failed to wait for load balancer: %w", err)
	}

	return stateResponse(LoadBalancerState{
		Name:                  aws.ToString(lb.LoadBalancerName),
		ARN:                   aws.ToString(lb.LoadBalancerArn),
		DNSName:               aws.ToString(lb.DNSName),
		CanonicalHostedZoneID: aws.ToString(lb.CanonicalHostedZoneId),
	})
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior LoadBalancerState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ARN == "" {
		return nil
	}
	_, err := p.clients.ELBv2.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{LoadBalancerArn: aws.String(prior.ARN)})
	if err != nil && !isNotFound(err, "LoadBalancerNotFound") {
		return fmt.Errorf("failed to delete load balancer: %w", err)
	}

	// The balancer's network interfaces hold the subnets and security groups.
	waiter := elbv2.NewLoadBalancersDeletedWaiter(p.clients.ELBv2)
	if err := waiter.Wait(ctx, &elbv2.DescribeLoadBalancersInput{LoadBalancerArns: []string{prior.ARN}}, p.WaitTimeout); err != nil {
		return fmt.Errorf("failed to wait for load balancer deletion: %w", err)
	}
	return nil
}

func targetDescriptions(targets []Target) []types.TargetDescription {
	out := make([]types.TargetDescription, 0, len(targets))
	for _, t := range targets {
		d := types.TargetDescription{Id: aws.String(t.ID)}
		if t.Port > 0 {
			d.Port = aws.Int32(int32(t.Port))
		}
		out = append(out, d)
	}
	return out
}

// diffTargets returns the targets to register and to deregister to move
// from prior to desired.
func diffTargets(prior, desired []Target) (add, remove []Target) {
	seen := make(map[Target]bool, len(prior))
	for _, t := range prior {
		seen[t] = true
	}
	want := make(map[Target]bool, len(desired))
	for _, t := range desired {
		want[t] = true
		if !seen[t] {
			add = append(add, t)
		}
	}
	for _, t := range prior {
		if !want[t] {
			remove = append(remove, t)
		}
	}
	sortTargets(add)
	sortTargets(remove)
	return add, remove
}

func sortTargets(ts []Target) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].ID != ts[j].ID {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].Port < ts[j].Port
	})
}

func (p *Provider) applyTargetGroup(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired TargetGroupConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	// In place, only registered targets change.
	if req.PriorStateJSON != nil {
		var prior TargetGroupState
		if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
			return nil, err
		}
		add, remove := diffTargets(prior.Targets, desired.Targets)
		if len(remove) > 0 {
			if _, err := p.clients.ELBv2.DeregisterTargets(ctx, &elbv2.DeregisterTargetsInput{
				TargetGroupArn: aws.String(prior.ARN),
				Targets:        targetDescriptions(remove),
			}); err != nil {
				return nil, fmt.Errorf("failed to deregister targets: %w", err)
			}
		}
		if len(add) > 0 {
			if _, err := p.clients.ELBv2.RegisterTargets(ctx, &elbv2.RegisterTargetsInput{
				TargetGroupArn: aws.String(prior.ARN),
				Targets:        targetDescriptions(add),
			}); err != nil {
				return nil, fmt.Errorf("failed to register targets: %w", err)
			}
		}
		prior.Targets = desired.Targets
		return stateResponse(prior)
	}

	input := &elbv2.CreateTargetGroupInput{
		Name:       aws.String(desired.Name),
		Port:       aws.Int32(int32(desired.Port)),
		Protocol:   types.ProtocolEnum(desired.Protocol),
		VpcId:      aws.String(desired.VpcID),
		TargetType: types.TargetTypeEnum(desired.TargetType),
	}
	if desired.HealthCheckPath != "" {
		input.HealthCheckPath = aws.String(desired.HealthCheckPath)
	}

	resp, err := p.clients.ELBv2.CreateTargetGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create target group: %w", err)
	}
	if len(resp.TargetGroups) == 0 {
		return nil, fmt.Errorf("no target group returned for %s", desired.Name)
	}
	arn := aws.ToString(resp.TargetGroups[0].TargetGroupArn)

	if len(desired.Targets) > 0 {
		if _, err := p.clients.ELBv2.RegisterTargets(ctx, &elbv2.RegisterTargetsInput{
			TargetGroupArn: aws.String(arn),
			Targets:        targetDescriptions(desired.Targets),
		}); err != nil {
			return nil, fmt.Errorf("failed to register targets: %w", err)
		}
	}

	return stateResponse(TargetGroupState{
		Name:    aws.ToString(resp.TargetGroups[0].TargetGroupName),
		ARN:     arn,
		Targets: desired.Targets,
	})
}

func (p *Provider) deleteTargetGroup(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior TargetGroupState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ARN == "" {
		return nil
	}
	_, err := p.clients.ELBv2.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{TargetGroupArn: aws.String(prior.ARN)})
	if err != nil && !isNotFound(err, "TargetGroupNotFound") {
		return fmt.Errorf("failed to delete target group: %w", err)
	}
	return nil
}

// Validate rejects listeners the balancer would refuse.
func (c ListenerConfig) Validate() error {
	if c.Protocol == string(types.ProtocolEnumHttps) && c.CertificateArn == "" {
		return fmt.Errorf("HTTPS listener on port %d requires a certificate", c.Port)
	}
	if len(c.DefaultActions) == 0 {
		return fmt.Errorf("listener on port %d has no default action", c.Port)
	}
	for _, a := range c.DefaultActions {
		switch a.Type {
		case "forward":
			if a.TargetGroupArn == "" {
				return fmt.Errorf("forward action on port %d requires targetGroupArn", c.Port)
			}
		case "redirect":
			if a.Protocol == "" && a.Port == 0 {
				return fmt.Errorf("redirect action on port %d changes nothing", c.Port)
			}
		default:
			return fmt.Errorf("unsupported listener action %q", a.Type)
		}
	}
	return nil
}

func (c ListenerConfig) actions() []types.Action {
	out := make([]types.Action, 0, len(c.DefaultActions))
	for _, a := range c.DefaultActions {
		switch a.Type {
		case "forward":
			out = append(out, types.Action{
				Type:           types.ActionTypeEnumForward,
				TargetGroupArn: aws.String(a.TargetGroupArn),
			})
		case "redirect":
			redirect := &types.RedirectActionConfig{StatusCode: types.RedirectActionStatusCodeEnumHttp301}
			if a.StatusCode != "" {
				redirect.StatusCode = types.RedirectActionStatusCodeEnum(a.StatusCode)
			}
			if a.Protocol != "" {
				redirect.Protocol = aws.String(a.Protocol)
			}
			if a.Port > 0 {
				redirect.Port = aws.String(fmt.Sprintf("%d", a.Port))
			}
			out = append(out, types.Action{Type: types.ActionTypeEnumRedirect, RedirectConfig: redirect})
		}
	}
	return out
}

func (c ListenerConfig) certificates() []types.Certificate {
	if c.CertificateArn == "" {
		return nil
	}
	return []types.Certificate{{CertificateArn: aws.String(c.CertificateArn)}}
}

func (p *Provider) applyListener(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired ListenerConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}
	if err := desired.Validate(); err != nil {
		return nil, err
	}

	if req.PriorStateJSON != nil {
		var prior ListenerState
		if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
			return nil, err
		}
		_, err := p.clients.ELBv2.ModifyListener(ctx, &elbv2.ModifyListenerInput{
			ListenerArn:    aws.String(prior.ARN),
			Protocol:       types.ProtocolEnum(desired.Protocol),
			Certificates:   desired.certificates(),
			DefaultActions: desired.actions(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to modify listener %s: %w", prior.ARN, err)
		}
		prior.Protocol = desired.Protocol
		return stateResponse(prior)
	}

	resp, err := p.clients.ELBv2.CreateListener(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: aws.String(desired.LoadBalancerArn),
		Port:            aws.Int32(int32(desired.Port)),
		Protocol:        types.ProtocolEnum(desired.Protocol),
		Certificates:    desired.certificates(),
		DefaultActions:  desired.actions(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	if len(resp.Listeners) == 0 {
		return nil, fmt.Errorf("no listener returned for port %d", desired.Port)
	}

	return stateResponse(ListenerState{
		ARN:      aws.ToString(resp.Listeners[0].ListenerArn),
		Port:     desired.Port,
		Protocol: desired.Protocol,
	})
}

func (p *Provider) deleteListener(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior ListenerState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ARN == "" {
		return nil
	}
	_, err := p.clients.ELBv2.DeleteListener(ctx, &elbv2.DeleteListenerInput{ListenerArn: aws.String(prior.ARN)})
	if err != nil && !isNotFound(err, "ListenerNotFound") {
		return fmt.Errorf("failed to delete listener: %w", err)
	}
	return nil
}
