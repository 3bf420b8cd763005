package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go/waiter"
	"github.com/google/uuid"
	"github.com/picklr-io/splunk-stack/internal/logging"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

// Bounds for polling until ACM publishes the DNS validation records.
var (
	validationRecordMinDelay = 2 * time.Second
	validationRecordMaxDelay = 20 * time.Second
)

type CertificateConfig struct {
	DomainName       string            `json:"domainName"`
	ValidationMethod string            `json:"validationMethod"`
	HostedZoneID     string            `json:"hostedZoneId"`
	Tags             map[string]string `json:"tags,omitempty"`
}

type ValidationRecord struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type CertificateState struct {
	ARN               string             `json:"arn"`
	DomainName        string             `json:"domainName"`
	HostedZoneID      string             `json:"hostedZoneId"`
	ValidationRecords []ValidationRecord `json:"validationRecords,omitempty"`
}

type CertificateValidationConfig struct {
	CertificateArn string `json:"certificateArn"`
}

type CertificateValidationState struct {
	CertificateArn string `json:"certificateArn"`
	Status         string `json:"status"`
}

func (r ValidationRecord) recordSet() *r53types.ResourceRecordSet {
	return &r53types.ResourceRecordSet{
		Name:            aws.String(fqdn(r.Name)),
		Type:            r53types.RRType(r.Type),
		TTL:             aws.Int64(defaultRecordTTL),
		ResourceRecords: []r53types.ResourceRecord{{Value: aws.String(r.Value)}},
	}
}

// validationRecords collects the distinct DNS records ACM wants published.
// ok is false while any option is still missing its record.
func validationRecords(cert *acmtypes.CertificateDetail) (records []ValidationRecord, ok bool) {
	if cert == nil || len(cert.DomainValidationOptions) == 0 {
		return nil, false
	}
	seen := map[string]bool{}
	for _, opt := range cert.DomainValidationOptions {
		if opt.ResourceRecord == nil {
			return nil, false
		}
		rec := ValidationRecord{
			Name:  aws.ToString(opt.ResourceRecord.Name),
			Type:  string(opt.ResourceRecord.Type),
			Value: aws.ToString(opt.ResourceRecord.Value),
		}
		if seen[rec.Name] {
			continue
		}
		seen[rec.Name] = true
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, true
}

func (p *Provider) awaitValidationRecords(ctx context.Context, arn string) ([]ValidationRecord, error) {
	deadline := time.Now().Add(p.WaitTimeout)
	for attempt := int64(1); ; attempt++ {
		out, err := p.clients.ACM.DescribeCertificate(ctx, &acm.DescribeCertificateInput{CertificateArn: aws.String(arn)})
		if err != nil {
			return nil, fmt.Errorf("failed to describe certificate: %w", err)
		}
		if records, ok := validationRecords(out.Certificate); ok {
			return records, nil
		}

		delay, err := waiter.ComputeDelay(attempt, validationRecordMinDelay, validationRecordMaxDelay, time.Until(deadline))
		if err != nil {
			return nil, fmt.Errorf("validation records for %s not published: %w", arn, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// applyCertificate requests a DNS-validated certificate and publishes its
// validation records into the hosted zone. It does not wait for issuance.
func (p *Provider) applyCertificate(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired CertificateConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}
	if desired.ValidationMethod == "" {
		desired.ValidationMethod = string(acmtypes.ValidationMethodDns)
	}
	if desired.ValidationMethod == string(acmtypes.ValidationMethodDns) && desired.HostedZoneID == "" {
		return nil, fmt.Errorf("DNS-validated certificate for %s requires hostedZoneId", desired.DomainName)
	}

	input := &acm.RequestCertificateInput{
		DomainName:       aws.String(desired.DomainName),
		ValidationMethod: acmtypes.ValidationMethod(desired.ValidationMethod),
		IdempotencyToken: aws.String(strings.ReplaceAll(uuid.NewString(), "-", "")),
	}
	for _, t := range ec2Tags(desired.Tags) {
		input.Tags = append(input.Tags, acmtypes.Tag{Key: t.Key, Value: t.Value})
	}

	resp, err := p.clients.ACM.RequestCertificate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to request certificate: %w", err)
	}
	arn := aws.ToString(resp.CertificateArn)
	state := CertificateState{ARN: arn, DomainName: desired.DomainName, HostedZoneID: desired.HostedZoneID}

	if desired.ValidationMethod != string(acmtypes.ValidationMethodDns) {
		return stateResponse(state)
	}

	records, err := p.awaitValidationRecords(ctx, arn)
	if err != nil {
		return nil, err
	}
	sets := make([]*r53types.ResourceRecordSet, 0, len(records))
	for _, r := range records {
		sets = append(sets, r.recordSet())
	}
	if err := p.changeRecords(ctx, desired.HostedZoneID, r53types.ChangeActionUpsert, sets...); err != nil {
		return nil, fmt.Errorf("failed to publish validation records: %w", err)
	}
	logging.Info("certificate validation records published", "certificate", arn, "records", len(records))

	state.ValidationRecords = records
	return stateResponse(state)
}

func (p *Provider) deleteCertificate(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior CertificateState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}

	if prior.HostedZoneID != "" && len(prior.ValidationRecords) > 0 {
		sets := make([]*r53types.ResourceRecordSet, 0, len(prior.ValidationRecords))
		for _, r := range prior.ValidationRecords {
			sets = append(sets, r.recordSet())
		}
		if err := p.changeRecords(ctx, prior.HostedZoneID, r53types.ChangeActionDelete, sets...); err != nil && !isMissingRecord(err) {
			return fmt.Errorf("failed to remove validation records: %w", err)
		}
	}

	if prior.ARN == "" {
		return nil
	}
	_, err := p.clients.ACM.DeleteCertificate(ctx, &acm.DeleteCertificateInput{CertificateArn: aws.String(prior.ARN)})
	if err != nil && !isNotFound(err, "ResourceNotFoundException") {
		return fmt.Errorf("failed to delete certificate: %w", err)
	}
	return nil
}

// applyCertificateValidation blocks until the certificate is issued, so that
// HTTPS listeners depending on it are created with a usable certificate.
func (p *Provider) applyCertificateValidation(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired CertificateValidationConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}
	if desired.CertificateArn == "" {
		return nil, fmt.Errorf("certificate validation %s requires certificateArn", req.Name)
	}

	w := acm.NewCertificateValidatedWaiter(p.clients.ACM)
	if err := w.Wait(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(desired.CertificateArn),
	}, p.WaitTimeout); err != nil {
		return nil, fmt.Errorf("failed to wait for certificate validation: %w", err)
	}

	return stateResponse(CertificateValidationState{
		CertificateArn: desired.CertificateArn,
		Status:         string(acmtypes.CertificateStatusIssued),
	})
}
