package topology

import (
	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/providers/aws"
)

const instanceName = "splunk"

// compute declares the image lookup and the instance, placed in the first
// private subnet. The resolved image id is pinned in state by the lookup.
func (b *builder) compute(securityGroups []string) {
	b.add(aws.TypeImageLookup, instanceName, aws.ImageLookupConfig{
		NamePattern: b.s.ImageNamePattern,
		Owners:      b.s.ImageOwners,
	})

	// Routes must exist before boot so the appliance can reach the internet
	// through NAT.
	instance := b.add(aws.TypeInstance, instanceName, aws.InstanceConfig{
		AMI:              ir.Ref(aws.TypeImageLookup, instanceName, "imageId"),
		InstanceType:     b.s.InstanceType,
		SubnetID:         ir.Ref(aws.TypeSubnet, privateSubnetName(0), "id"),
		SecurityGroupIDs: securityGroups,
		Tags:             b.tags(instanceName),
	}, ir.Addr(aws.TypeRouteTable, privateSubnetName(0)))
	instance.Timeout = "15m"

	b.output("instanceId", ir.Ref(aws.TypeInstance, instanceName, "id"))
	b.output("imageId", ir.Ref(aws.TypeImageLookup, instanceName, "imageId"))
	b.output("privateIp", ir.Ref(aws.TypeInstance, instanceName, "privateIp"))
}
