package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

type SecurityGroupConfig struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	VpcID       string            `json:"vpcId"`
	Tags        map[string]string `json:"tags,omitempty"`
}

type SecurityGroupState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SecurityGroupIngressConfig authorises one source on one port range.
// Exactly one of SourceSecurityGroupID and CidrIP is set.
type SecurityGroupIngressConfig struct {
	GroupID               string `json:"groupId"`
	Protocol              string `json:"protocol"`
	FromPort              int    `json:"fromPort"`
	ToPort                int    `json:"toPort"`
	SourceSecurityGroupID string `json:"sourceSecurityGroupId,omitempty"`
	CidrIP                string `json:"cidrIp,omitempty"`
	Description           string `json:"description,omitempty"`
}

type SecurityGroupIngressState struct {
	GroupID string   `json:"groupId"`
	RuleIDs []string `json:"ruleIds"`
}

// Validate enforces the one-source, one-port-range shape of a rule.
func (c SecurityGroupIngressConfig) Validate() error {
	if (c.SourceSecurityGroupID == "") == (c.CidrIP == "") {
		return fmt.Errorf("ingress rule on %s must have exactly one of sourceSecurityGroupId or cidrIp", c.GroupID)
	}
	if c.FromPort > c.ToPort {
		return fmt.Errorf("ingress rule on %s has fromPort %d > toPort %d", c.GroupID, c.FromPort, c.ToPort)
	}
	return nil
}

func (c SecurityGroupIngressConfig) permission() types.IpPermission {
	perm := types.IpPermission{
		IpProtocol: aws.String(c.Protocol),
		FromPort:   aws.Int32(int32(c.FromPort)),
		ToPort:     aws.Int32(int32(c.ToPort)),
	}
	var desc *string
	if c.Description != "" {
		desc = aws.String(c.Description)
	}
	if c.SourceSecurityGroupID != "" {
		perm.UserIdGroupPairs = []types.UserIdGroupPair{{GroupId: aws.String(c.SourceSecurityGroupID), Description: desc}}
	} else {
		perm.IpRanges = []types.IpRange{{CidrIp: aws.String(c.CidrIP), Description: desc}}
	}
	return perm
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired SecurityGroupConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	resp, err := p.clients.EC2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(desired.Name),
		Description:       aws.String(desired.Description),
		VpcId:             aws.String(desired.VpcID),
		TagSpecifications: tagSpec(types.ResourceTypeSecurityGroup, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SG: %w", err)
	}

	return stateResponse(SecurityGroupState{ID: aws.ToString(resp.GroupId), Name: desired.Name})
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior SecurityGroupState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ID == "" {
		return nil
	}
	_, err := p.clients.EC2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(prior.ID)})
	if err != nil && !isNotFound(err, "InvalidGroup.NotFound") {
		return fmt.Errorf("failed to delete SG: %w", err)
	}
	return nil
}

func (p *Provider) applySecurityGroupIngress(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired SecurityGroupIngressConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}
	if err := desired.Validate(); err != nil {
		return nil, err
	}

	resp, err := p.clients.EC2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(desired.GroupID),
		IpPermissions: []types.IpPermission{desired.permission()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authorize ingress on %s: %w", desired.GroupID, err)
	}

	state := SecurityGroupIngressState{GroupID: desired.GroupID}
	for _, rule := range resp.SecurityGroupRules {
		state.RuleIDs = append(state.RuleIDs, aws.ToString(rule.SecurityGroupRuleId))
	}
	return stateResponse(state)
}

func (p *Provider) deleteSecurityGroupIngress(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior SecurityGroupIngressState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.GroupID == "" || len(prior.RuleIDs) == 0 {
		return nil
	}
	_, err := p.clients.EC2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:              aws.String(prior.GroupID),
		SecurityGroupRuleIds: prior.RuleIDs,
	})
	if err != nil && !isNotFound(err, "InvalidGroup.NotFound", "InvalidSecurityGroupRuleId.NotFound") {
		return fmt.Errorf("failed to revoke ingress on %s: %w", prior.GroupID, err)
	}
	return nil
}
