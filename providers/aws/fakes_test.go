package aws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/stretchr/testify/require"
)

// The fakes embed the client interfaces so unexercised calls panic.

type fakeEC2 struct {
	EC2API

	images     []ec2types.Image
	instances  map[string]ec2types.InstanceStateName
	zones      []ec2types.AvailabilityZone
	authorized []*ec2.AuthorizeSecurityGroupIngressInput
	revoked    []*ec2.RevokeSecurityGroupIngressInput
	subnets    []*ec2.CreateSubnetInput
	tagged     []*ec2.CreateTagsInput
}

func (f *fakeEC2) DescribeImages(_ context.Context, _ *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	return &ec2.DescribeImagesOutput{Images: f.images}, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	out := &ec2.DescribeInstancesOutput{}
	for _, id := range in.InstanceIds {
		st, ok := f.instances[id]
		if !ok {
			continue
		}
		out.Reservations = append(out.Reservations, ec2types.Reservation{
			Instances: []ec2types.Instance{{InstanceId: aws.String(id), State: &ec2types.InstanceState{Name: st}}},
		})
	}
	return out, nil
}

func (f *fakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.tagged = append(f.tagged, in)
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) DescribeAvailabilityZones(_ context.Context, _ *ec2.DescribeAvailabilityZonesInput, _ ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error) {
	return &ec2.DescribeAvailabilityZonesOutput{AvailabilityZones: f.zones}, nil
}

func (f *fakeEC2) CreateSubnet(_ context.Context, in *ec2.CreateSubnetInput, _ ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error) {
	f.subnets = append(f.subnets, in)
	return &ec2.CreateSubnetOutput{Subnet: &ec2types.Subnet{
		SubnetId:         aws.String("subnet-1"),
		VpcId:            in.VpcId,
		AvailabilityZone: in.AvailabilityZone,
	}}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.authorized = append(f.authorized, in)
	return &ec2.AuthorizeSecurityGroupIngressOutput{
		SecurityGroupRules: []ec2types.SecurityGroupRule{{SecurityGroupRuleId: aws.String("sgr-1")}},
	}, nil
}

func (f *fakeEC2) RevokeSecurityGroupIngress(_ context.Context, in *ec2.RevokeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error) {
	f.revoked = append(f.revoked, in)
	return &ec2.RevokeSecurityGroupIngressOutput{}, nil
}

type fakeELB struct {
	ELBv2API

	listeners    []*elbv2.CreateListenerInput
	modified     []*elbv2.ModifyListenerInput
	registered   []*elbv2.RegisterTargetsInput
	deregistered []*elbv2.DeregisterTargetsInput
}

func (f *fakeELB) CreateListener(_ context.Context, in *elbv2.CreateListenerInput, _ ...func(*elbv2.Options)) (*elbv2.CreateListenerOutput, error) {
	f.listeners = append(f.listeners, in)
	return &elbv2.CreateListenerOutput{Listeners: []elbtypes.Listener{{ListenerArn: aws.String("arn:listener/1")}}}, nil
}

func (f *fakeELB) ModifyListener(_ context.Context, in *elbv2.ModifyListenerInput, _ ...func(*elbv2.Options)) (*elbv2.ModifyListenerOutput, error) {
	f.modified = append(f.modified, in)
	return &elbv2.ModifyListenerOutput{}, nil
}

func (f *fakeELB) CreateTargetGroup(_ context.Context, in *elbv2.CreateTargetGroupInput, _ ...func(*elbv2.Options)) (*elbv2.CreateTargetGroupOutput, error) {
	return &elbv2.CreateTargetGroupOutput{TargetGroups: []elbtypes.TargetGroup{{
		TargetGroupArn:  aws.String("arn:tg/" + aws.ToString(in.Name)),
		TargetGroupName: in.Name,
	}}}, nil
}

func (f *fakeELB) RegisterTargets(_ context.Context, in *elbv2.RegisterTargetsInput, _ ...func(*elbv2.Options)) (*elbv2.RegisterTargetsOutput, error) {
	f.registered = append(f.registered, in)
	return &elbv2.RegisterTargetsOutput{}, nil
}

func (f *fakeELB) DeregisterTargets(_ context.Context, in *elbv2.DeregisterTargetsInput, _ ...func(*elbv2.Options)) (*elbv2.DeregisterTargetsOutput, error) {
	f.deregistered = append(f.deregistered, in)
	return &elbv2.DeregisterTargetsOutput{}, nil
}

type fakeRoute53 struct {
	Route53API

	zones   *route53.ListHostedZonesByNameOutput
	changes []*route53.ChangeResourceRecordSetsInput
	err     error
}

func (f *fakeRoute53) ListHostedZonesByName(_ context.Context, _ *route53.ListHostedZonesByNameInput, _ ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error) {
	return f.zones, nil
}

func (f *fakeRoute53) ChangeResourceRecordSets(_ context.Context, in *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	f.changes = append(f.changes, in)
	if f.err != nil {
		return nil, f.err
	}
	return &route53.ChangeResourceRecordSetsOutput{}, nil
}

type fakeACM struct {
	ACMAPI

	requested []*acm.RequestCertificateInput
	described int
	// details are returned in order; the last one repeats.
	details []*acmtypes.CertificateDetail
}

func (f *fakeACM) RequestCertificate(_ context.Context, in *acm.RequestCertificateInput, _ ...func(*acm.Options)) (*acm.RequestCertificateOutput, error) {
	f.requested = append(f.requested, in)
	return &acm.RequestCertificateOutput{CertificateArn: aws.String("arn:cert/1")}, nil
}

func (f *fakeACM) DescribeCertificate(_ context.Context, _ *acm.DescribeCertificateInput, _ ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
	i := f.described
	if i >= len(f.details) {
		i = len(f.details) - 1
	}
	f.described++
	return &acm.DescribeCertificateOutput{Certificate: f.details[i]}, nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
