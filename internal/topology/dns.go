package topology

import (
	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/providers/aws"
)

const (
	zoneName        = "zone"
	certificateName = "cert"
	recordName      = "alias"
)

// certificate looks up the existing public zone and requests a certificate
// for the published name, validated through records written into that zone.
// Listeners reference the validation resource so they wait for issuance.
func (b *builder) certificate() {
	b.add(aws.TypeHostedZoneLookup, zoneName, aws.HostedZoneLookupConfig{
		DomainName: b.s.DomainName,
	})

	b.add(aws.TypeCertificate, certificateName, aws.CertificateConfig{
		DomainName:       b.s.FQDN(),
		ValidationMethod: "DNS",
		HostedZoneID:     ir.Ref(aws.TypeHostedZoneLookup, zoneName, "id"),
		Tags:             b.tags("cert"),
	})

	b.add(aws.TypeCertificateValidation, certificateName, aws.CertificateValidationConfig{
		CertificateArn: ir.Ref(aws.TypeCertificate, certificateName, "arn"),
	}).Timeout = "45m"
}

// aliasRecord binds <subdomain>.<domainName> to the balancer.
func (b *builder) aliasRecord() {
	b.add(aws.TypeRecordSet, recordName, aws.RecordSetConfig{
		ZoneID: ir.Ref(aws.TypeHostedZoneLookup, zoneName, "id"),
		Name:   b.s.FQDN(),
		Type:   "A",
		Alias: &aws.AliasTarget{
			DNSName:              ir.Ref(aws.TypeLoadBalancer, balancerName, "dnsName"),
			HostedZoneID:         ir.Ref(aws.TypeLoadBalancer, balancerName, "canonicalHostedZoneId"),
			EvaluateTargetHealth: true,
		},
	})

	b.output("url", "https://"+b.s.FQDN())
}
