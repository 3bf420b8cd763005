package topology

import (
	"fmt"
	"math/bits"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/providers/aws"
)

// Subnets holds the per-zone CIDR blocks carved from the VPC range.
type Subnets struct {
	Public  []string
	Private []string
}

// SubnetPlan splits vpcCidr into 2*zones equal blocks: the public subnets take
// the low blocks and the private subnets follow, one of each per zone.
func SubnetPlan(vpcCidr string, zones int) (Subnets, error) {
	if zones < 1 {
		return Subnets{}, fmt.Errorf("zone count must be at least 1, got %d", zones)
	}
	_, base, err := net.ParseCIDR(vpcCidr)
	if err != nil {
		return Subnets{}, fmt.Errorf("invalid vpc cidr: %w", err)
	}

	blocks := 2 * zones
	newbits := bits.Len(uint(blocks - 1))

	carved := make([]*net.IPNet, blocks)
	for i := range carved {
		if carved[i], err = cidr.Subnet(base, newbits, i); err != nil {
			return Subnets{}, fmt.Errorf("cannot carve %d subnets from %s: %w", blocks, vpcCidr, err)
		}
	}
	if err := cidr.VerifyNoOverlap(carved, base); err != nil {
		return Subnets{}, err
	}

	var plan Subnets
	for i := 0; i < zones; i++ {
		plan.Public = append(plan.Public, carved[i].String())
		plan.Private = append(plan.Private, carved[zones+i].String())
	}
	return plan, nil
}

const vpcName = "vpc"

func publicSubnetName(zone int) string  { return fmt.Sprintf("public-%d", zone) }
func privateSubnetName(zone int) string { return fmt.Sprintf("private-%d", zone) }

// network declares the VPC with a public and a private subnet per zone. Public
// subnets route to an internet gateway; each private subnet routes through the
// NAT gateway of its own zone.
func (b *builder) network() error {
	plan, err := SubnetPlan(b.s.VpcCidr, b.s.MaxAzs)
	if err != nil {
		return err
	}

	b.add(aws.TypeVpc, vpcName, aws.VpcConfig{
		CidrBlock:          b.s.VpcCidr,
		MaxAzs:             b.s.MaxAzs,
		EnableDnsHostnames: true,
		EnableDnsSupport:   true,
		Tags:               b.tags("vpc"),
	})
	vpcID := ir.Ref(aws.TypeVpc, vpcName, "id")

	b.add(aws.TypeInternetGateway, "igw", aws.InternetGatewayConfig{
		VpcID: vpcID,
		Tags:  b.tags("igw"),
	})

	var publicIDs []string
	for zone := 0; zone < b.s.MaxAzs; zone++ {
		pub := publicSubnetName(zone)
		b.add(aws.TypeSubnet, pub, aws.SubnetConfig{
			VpcID:               vpcID,
			CidrBlock:           plan.Public[zone],
			ZoneIndex:           zone,
			MapPublicIpOnLaunch: true,
			Tags:                b.tags(pub),
		})
		publicIDs = append(publicIDs, ir.Ref(aws.TypeSubnet, pub, "id"))

		priv := privateSubnetName(zone)
		b.add(aws.TypeSubnet, priv, aws.SubnetConfig{
			VpcID:     vpcID,
			CidrBlock: plan.Private[zone],
			ZoneIndex: zone,
			Tags:      b.tags(priv),
		})

		eip := fmt.Sprintf("nat-%d", zone)
		b.add(aws.TypeElasticIP, eip, aws.ElasticIPConfig{Tags: b.tags(eip)})
		b.add(aws.TypeNatGateway, eip, aws.NatGatewayConfig{
			SubnetID:     ir.Ref(aws.TypeSubnet, pub, "id"),
			AllocationID: ir.Ref(aws.TypeElasticIP, eip, "allocationId"),
			Tags:         b.tags(eip),
		}, ir.Addr(aws.TypeInternetGateway, "igw"))

		b.add(aws.TypeRouteTable, priv, aws.RouteTableConfig{
			VpcID: vpcID,
			Routes: []aws.RouteConfig{{
				DestinationCidrBlock: "0.0.0.0/0",
				NatGatewayID:         ir.Ref(aws.TypeNatGateway, eip, "id"),
			}},
			SubnetIDs: []string{ir.Ref(aws.TypeSubnet, priv, "id")},
			Tags:      b.tags(priv),
		})
	}

	b.add(aws.TypeRouteTable, "public", aws.RouteTableConfig{
		VpcID: vpcID,
		Routes: []aws.RouteConfig{{
			DestinationCidrBlock: "0.0.0.0/0",
			GatewayID:            ir.Ref(aws.TypeInternetGateway, "igw", "id"),
		}},
		SubnetIDs: publicIDs,
		Tags:      b.tags("public"),
	})

	b.publicSubnets = publicIDs
	return nil
}
