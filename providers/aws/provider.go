// Package aws provisions the stack's resource types against the AWS APIs.
package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/picklr-io/splunk-stack/internal/logging"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

const (
	TypeVpc                   = "aws:EC2.Vpc"
	TypeSubnet                = "aws:EC2.Subnet"
	TypeInternetGateway       = "aws:EC2.InternetGateway"
	TypeElasticIP             = "aws:EC2.ElasticIP"
	TypeNatGateway            = "aws:EC2.NatGateway"
	TypeRouteTable            = "aws:EC2.RouteTable"
	TypeSecurityGroup         = "aws:EC2.SecurityGroup"
	TypeSecurityGroupIngress  = "aws:EC2.SecurityGroupIngress"
	TypeImageLookup           = "aws:EC2.ImageLookup"
	TypeInstance              = "aws:EC2.Instance"
	TypeLoadBalancer          = "aws:ELBv2.LoadBalancer"
	TypeTargetGroup           = "aws:ELBv2.TargetGroup"
	TypeListener              = "aws:ELBv2.Listener"
	TypeCertificate           = "aws:ACM.Certificate"
	TypeCertificateValidation = "aws:ACM.CertificateValidation"
	TypeHostedZoneLookup      = "aws:Route53.HostedZoneLookup"
	TypeRecordSet             = "aws:Route53.RecordSet"
)

const (
	defaultRegion      = "us-east-1"
	defaultMaxAttempts = 5
)

// forceNew lists, per type, the attributes that cannot be changed in place.
// A nil entry means every change forces replacement.
var forceNew = map[string]map[string]bool{
	TypeInstance:    {"ami": true, "instanceType": true, "subnetId": true, "securityGroupIds": true},
	TypeTargetGroup: {"name": true, "port": true, "protocol": true, "vpcId": true, "targetType": true, "healthCheckPath": true},
	TypeListener:    {"loadBalancerArn": true, "port": true},
	TypeRecordSet:   {"zoneId": true, "name": true, "type": true},
}

type Provider struct {
	clients    Clients
	configured bool
	region     string
	accountID  string

	// WaitTimeout bounds every SDK waiter the provider runs.
	WaitTimeout time.Duration
}

func New() *Provider {
	return &Provider{WaitTimeout: 15 * time.Minute}
}

// NewWithClients returns a provider that uses the given clients instead of
// loading the default AWS configuration.
func NewWithClients(c Clients) *Provider {
	return &Provider{clients: c, configured: true, region: defaultRegion, WaitTimeout: 15 * time.Minute}
}

// Configure loads the SDK configuration for the requested region and
// confirms the credentials resolve to an account. Recognised keys are
// "region", "profile" and "maxAttempts".
func (p *Provider) Configure(ctx context.Context, cfg map[string]string) error {
	if p.configured {
		return nil
	}

	region := cfg["region"]
	if region == "" {
		region = defaultRegion
	}
	maxAttempts := defaultMaxAttempts
	if v := cfg["maxAttempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid maxAttempts %q", v)
		}
		maxAttempts = n
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile := cfg["profile"]; profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.clients = NewClients(awsCfg, maxAttempts)
	p.region = region

	ident, err := p.clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("failed to verify AWS credentials: %w", err)
	}
	p.accountID = aws.ToString(ident.Account)
	logging.Info("aws provider configured", "region", region, "account", p.accountID)

	p.configured = true
	return nil
}

func (p *Provider) Plan(ctx context.Context, req *plugin.PlanRequest) (*plugin.PlanResponse, error) {
	switch req.Type {
	case TypeInstance:
		return p.planInstance(ctx, req)
	case TypeTargetGroup, TypeListener, TypeRecordSet:
		return plugin.PlanByAttributes(req, forceNew[req.Type])
	}
	if !knownType(req.Type) {
		return nil, fmt.Errorf("unknown resource type: %s", req.Type)
	}
	return plugin.PlanByAttributes(req, nil)
}

func (p *Provider) Apply(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	switch req.Type {
	case TypeVpc:
		return p.applyVpc(ctx, req)
	case TypeSubnet:
		return p.applySubnet(ctx, req)
	case TypeInternetGateway:
		return p.applyInternetGateway(ctx, req)
	case TypeElasticIP:
		return p.applyElasticIP(ctx, req)
	case TypeNatGateway:
		return p.applyNatGateway(ctx, req)
	case TypeRouteTable:
		return p.applyRouteTable(ctx, req)
	case TypeSecurityGroup:
		return p.applySecurityGroup(ctx, req)
	case TypeSecurityGroupIngress:
		return p.applySecurityGroupIngress(ctx, req)
	case TypeImageLookup:
		return p.applyImageLookup(ctx, req)
	case TypeInstance:
		return p.applyInstance(ctx, req)
	case TypeLoadBalancer:
		return p.applyLoadBalancer(ctx, req)
	case TypeTargetGroup:
		return p.applyTargetGroup(ctx, req)
	case TypeListener:
		return p.applyListener(ctx, req)
	case TypeCertificate:
		return p.applyCertificate(ctx, req)
	case TypeCertificateValidation:
		return p.applyCertificateValidation(ctx, req)
	case TypeHostedZoneLookup:
		return p.applyHostedZoneLookup(ctx, req)
	case TypeRecordSet:
		return p.applyRecordSet(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Delete(ctx context.Context, req *plugin.DeleteRequest) error {
	switch req.Type {
	case TypeVpc:
		return p.deleteVpc(ctx, req)
	case TypeSubnet:
		return p.deleteSubnet(ctx, req)
	case TypeInternetGateway:
		return p.deleteInternetGateway(ctx, req)
	case TypeElasticIP:
		return p.deleteElasticIP(ctx, req)
	case TypeNatGateway:
		return p.deleteNatGateway(ctx, req)
	case TypeRouteTable:
		return p.deleteRouteTable(ctx, req)
	case TypeSecurityGroup:
		return p.deleteSecurityGroup(ctx, req)
	case TypeSecurityGroupIngress:
		return p.deleteSecurityGroupIngress(ctx, req)
	case TypeInstance:
		return p.deleteInstance(ctx, req)
	case TypeLoadBalancer:
		return p.deleteLoadBalancer(ctx, req)
	case TypeTargetGroup:
		return p.deleteTargetGroup(ctx, req)
	case TypeListener:
		return p.deleteListener(ctx, req)
	case TypeCertificate:
		return p.deleteCertificate(ctx, req)
	case TypeRecordSet:
		return p.deleteRecordSet(ctx, req)
	case TypeImageLookup, TypeHostedZoneLookup, TypeCertificateValidation:
		// Lookups and waiters own nothing in the account.
		return nil
	}

	return fmt.Errorf("unknown resource type: %s", req.Type)
}

func knownType(t string) bool {
	switch t {
	case TypeVpc, TypeSubnet, TypeInternetGateway, TypeElasticIP, TypeNatGateway, TypeRouteTable,
		TypeSecurityGroup, TypeSecurityGroupIngress, TypeImageLookup, TypeInstance,
		TypeLoadBalancer, TypeTargetGroup, TypeListener,
		TypeCertificate, TypeCertificateValidation, TypeHostedZoneLookup, TypeRecordSet:
		return true
	}
	return false
}
