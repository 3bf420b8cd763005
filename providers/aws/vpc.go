package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

type VpcConfig struct {
	CidrBlock          string            `json:"cidrBlock"`
	MaxAzs             int               `json:"maxAzs"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	Tags               map[string]string `json:"tags,omitempty"`
}

type VpcState struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidrBlock"`
}

type SubnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone,omitempty"`
	ZoneIndex           int               `json:"zoneIndex"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags,omitempty"`
}

type SubnetState struct {
	ID               string `json:"id"`
	VpcID            string `json:"vpcId"`
	AvailabilityZone string `json:"availabilityZone"`
}

type InternetGatewayConfig struct {
	VpcID string            `json:"vpcId"`
	Tags  map[string]string `json:"tags,omitempty"`
}

type InternetGatewayState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpcId"`
}

type ElasticIPConfig struct {
	Tags map[string]string `json:"tags,omitempty"`
}

type ElasticIPState struct {
	AllocationID string `json:"allocationId"`
	PublicIP     string `json:"publicIp"`
}

type NatGatewayConfig struct {
	SubnetID     string            `json:"subnetId"`
	AllocationID string            `json:"allocationId"`
	Tags         map[string]string `json:"tags,omitempty"`
}

type NatGatewayState struct {
	ID string `json:"id"`
}

type RouteConfig struct {
	DestinationCidrBlock string `json:"destinationCidrBlock"`
	GatewayID            string `json:"gatewayId,omitempty"`
	NatGatewayID         string `json:"natGatewayId,omitempty"`
}

type RouteTableConfig struct {
	VpcID     string            `json:"vpcId"`
	Routes    []RouteConfig     `json:"routes,omitempty"`
	SubnetIDs []string          `json:"subnetIds,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

type RouteTableState struct {
	ID             string   `json:"id"`
	AssociationIDs []string `json:"associationIds,omitempty"`
}

func (p *Provider) applyVpc(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired VpcConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	resp, err := p.clients.EC2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(desired.CidrBlock),
		TagSpecifications: tagSpec(types.ResourceTypeVpc, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	vpcID := aws.ToString(resp.Vpc.VpcId)

	// DNS attributes must be modified one per call.
	if desired.EnableDnsSupport {
		if _, err := p.clients.EC2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            aws.String(vpcID),
			EnableDnsSupport: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		}); err != nil {
			return nil, fmt.Errorf("failed to enable DNS support on %s: %w", vpcID, err)
		}
	}
	if desired.EnableDnsHostnames {
		if _, err := p.clients.EC2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              aws.String(vpcID),
			EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		}); err != nil {
			return nil, fmt.Errorf("failed to enable DNS hostnames on %s: %w", vpcID, err)
		}
	}

	return stateResponse(VpcState{ID: vpcID, CidrBlock: aws.ToString(resp.Vpc.CidrBlock)})
}

func (p *Provider) deleteVpc(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior VpcState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ID == "" {
		return nil
	}
	_, err := p.clients.EC2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(prior.ID)})
	if err != nil && !isNotFound(err, "InvalidVpcID.NotFound") {
		return fmt.Errorf("failed to delete VPC: %w", err)
	}
	return nil
}

// zoneName resolves the index-th available zone of the region, in name order.
func (p *Provider) zoneName(ctx context.Context, index int) (string, error) {
	resp, err := p.clients.EC2.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []types.Filter{{Name: aws.String("state"), Values: []string{"available"}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe availability zones: %w", err)
	}

	var names []string
	for _, az := range resp.AvailabilityZones {
		if az.ZoneType != nil && aws.ToString(az.ZoneType) != "availability-zone" {
			continue
		}
		names = append(names, aws.ToString(az.ZoneName))
	}
	sort.Strings(names)

	if index < 0 || index >= len(names) {
		return "", fmt.Errorf("zone index %d out of range: region has %d availability zones", index, len(names))
	}
	return names[index], nil
}

func (p *Provider) applySubnet(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired SubnetConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	az := desired.AvailabilityZone
	if az == "" {
		var err error
		if az, err = p.zoneName(ctx, desired.ZoneIndex); err != nil {
			return nil, err
		}
	}

	resp, err := p.clients.EC2.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:             aws.String(desired.VpcID),
		CidrBlock:         aws.String(desired.CidrBlock),
		AvailabilityZone:  aws.String(az),
		TagSpecifications: tagSpec(types.ResourceTypeSubnet, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}

	if desired.MapPublicIpOnLaunch {
		if _, err := p.clients.EC2.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            resp.Subnet.SubnetId,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		}); err != nil {
			return nil, fmt.Errorf("failed to enable public IPs on subnet: %w", err)
		}
	}

	return stateResponse(SubnetState{
		ID:               aws.ToString(resp.Subnet.SubnetId),
		VpcID:            aws.ToString(resp.Subnet.VpcId),
		AvailabilityZone: aws.ToString(resp.Subnet.AvailabilityZone),
	})
}

func (p *Provider) deleteSubnet(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior SubnetState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ID == "" {
		return nil
	}
	_, err := p.clients.EC2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(prior.ID)})
	if err != nil && !isNotFound(err, "InvalidSubnetID.NotFound") {
		return fmt.Errorf("failed to delete subnet: %w", err)
	}
	return nil
}

func (p *Provider) applyInternetGateway(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired InternetGatewayConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	resp, err := p.clients.EC2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: tagSpec(types.ResourceTypeInternetGateway, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create IGW: %w", err)
	}
	igwID := aws.ToString(resp.InternetGateway.InternetGatewayId)

	if _, err := p.clients.EC2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(igwID),
		VpcId:             aws.String(desired.VpcID),
	}); err != nil {
		return nil, fmt.Errorf("failed to attach IGW: %w", err)
	}

	return stateResponse(InternetGatewayState{ID: igwID, VpcID: desired.VpcID})
}

func (p *Provider) deleteInternetGateway(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior InternetGatewayState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ID == "" {
		return nil
	}
	if prior.VpcID != "" {
		_, err := p.clients.EC2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(prior.ID),
			VpcId:             aws.String(prior.VpcID),
		})
		if err != nil && !isNotFound(err, "InvalidInternetGatewayID.NotFound", "Gateway.NotAttached") {
			return fmt.Errorf("failed to detach IGW: %w", err)
		}
	}
	_, err := p.clients.EC2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: aws.String(prior.ID)})
	if err != nil && !isNotFound(err, "InvalidInternetGatewayID.NotFound") {
		return fmt.Errorf("failed to delete IGW: %w", err)
	}
	return nil
}

func (p *Provider) applyElasticIP(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired ElasticIPConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	resp, err := p.clients.EC2.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain:            types.DomainTypeVpc,
		TagSpecifications: tagSpec(types.ResourceTypeElasticIp, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate address: %w", err)
	}

	return stateResponse(ElasticIPState{
		AllocationID: aws.ToString(resp.AllocationId),
		PublicIP:     aws.ToString(resp.PublicIp),
	})
}

func (p *Provider) deleteElasticIP(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior ElasticIPState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.AllocationID == "" {
		return nil
	}
	_, err := p.clients.EC2.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: aws.String(prior.AllocationID)})
	if err != nil && !isNotFound(err, "InvalidAllocationID.NotFound") {
		return fmt.Errorf("failed to release EIP: %w", err)
	}
	return nil
}

func (p *Provider) applyNatGateway(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired NatGatewayConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	resp, err := p.clients.EC2.CreateNatGateway(ctx, &ec2.CreateNatGatewayInput{
		SubnetId:          aws.String(desired.SubnetID),
		AllocationId:      aws.String(desired.AllocationID),
		TagSpecifications: tagSpec(types.ResourceTypeNatgateway, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NAT GW: %w", err)
	}
	natID := aws.ToString(resp.NatGateway.NatGatewayId)

	// Routes referencing a pending NAT gateway are rejected.
	waiter := ec2.NewNatGatewayAvailableWaiter(p.clients.EC2)
	if err := waiter.Wait(ctx, &ec2.DescribeNatGatewaysInput{NatGatewayIds: []string{natID}}, p.WaitTimeout); err != nil {
		return nil, fmt.Errorf("failed to wait for NAT GW %s: %w", natID, err)
	}

	return stateResponse(NatGatewayState{ID: natID})
}

func (p *Provider) deleteNatGateway(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior NatGatewayState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ID == "" {
		return nil
	}
	_, err := p.clients.EC2.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{NatGatewayId: aws.String(prior.ID)})
	if err != nil {
		if isNotFound(err, "NatGatewayNotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete NAT GW: %w", err)
	}

	// The elastic IP stays associated until the gateway is gone.
	waiter := ec2.NewNatGatewayDeletedWaiter(p.clients.EC2)
	if err := waiter.Wait(ctx, &ec2.DescribeNatGatewaysInput{NatGatewayIds: []string{prior.ID}}, p.WaitTimeout); err != nil {
		return fmt.Errorf("failed to wait for NAT GW %s deletion: %w", prior.ID, err)
	}
	return nil
}

func (p *Provider) applyRouteTable(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired RouteTableConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	resp, err := p.clients.EC2.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId:             aws.String(desired.VpcID),
		TagSpecifications: tagSpec(types.ResourceTypeRouteTable, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create RT: %w", err)
	}
	rtID := aws.ToString(resp.RouteTable.RouteTableId)

	for _, route := range desired.Routes {
		input := &ec2.CreateRouteInput{
			RouteTableId:         aws.String(rtID),
			DestinationCidrBlock: aws.String(route.DestinationCidrBlock),
		}
		if route.GatewayID != "" {
			input.GatewayId = aws.String(route.GatewayID)
		}
		if route.NatGatewayID != "" {
			input.NatGatewayId = aws.String(route.NatGatewayID)
		}
		if _, err := p.clients.EC2.CreateRoute(ctx, input); err != nil {
			return nil, fmt.Errorf("failed to create route %s in %s: %w", route.DestinationCidrBlock, rtID, err)
		}
	}

	state := RouteTableState{ID: rtID}
	for _, subnetID := range desired.SubnetIDs {
		assoc, err := p.clients.EC2.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
			RouteTableId: aws.String(rtID),
			SubnetId:     aws.String(subnetID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to associate %s with %s: %w", rtID, subnetID, err)
		}
		state.AssociationIDs = append(state.AssociationIDs, aws.ToString(assoc.AssociationId))
	}

	return stateResponse(state)
}

func (p *Provider) deleteRouteTable(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior RouteTableState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ID == "" {
		return nil
	}
	for _, assocID := range prior.AssociationIDs {
		_, err := p.clients.EC2.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{AssociationId: aws.String(assocID)})
		if err != nil && !isNotFound(err, "InvalidAssociationID.NotFound") {
			return fmt.Errorf("failed to disassociate %s: %w", assocID, err)
		}
	}
	_, err := p.clients.EC2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(prior.ID)})
	if err != nil && !isNotFound(err, "InvalidRouteTableID.NotFound") {
		return fmt.Errorf("failed to delete RT: %w", err)
	}
	return nil
}
