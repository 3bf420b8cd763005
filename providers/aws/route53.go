package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

const defaultRecordTTL = 300

type HostedZoneLookupConfig struct {
	DomainName string `json:"domainName"`
}

type HostedZoneLookupState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AliasTarget struct {
	DNSName              string `json:"dnsName"`
	HostedZoneID         string `json:"hostedZoneId"`
	EvaluateTargetHealth bool   `json:"evaluateTargetHealth"`
}

type RecordSetConfig struct {
	ZoneID  string       `json:"zoneId"`
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	TTL     int          `json:"ttl,omitempty"`
	Records []string     `json:"records,omitempty"`
	Alias   *AliasTarget `json:"alias,omitempty"`
}

// RecordSetState keeps the whole record: Route 53 deletes only on an exact match.
type RecordSetState struct {
	RecordSetConfig
	FQDN string `json:"fqdn"`
}

// fqdn returns name with exactly one trailing dot.
func fqdn(name string) string {
	return strings.TrimSuffix(name, ".") + "."
}

// zoneID strips the "/hostedzone/" prefix the API returns on zone ids.
func zoneID(id string) string {
	return strings.TrimPrefix(id, "/hostedzone/")
}

func (c RecordSetConfig) Validate() error {
	if c.ZoneID == "" || c.Name == "" || c.Type == "" {
		return fmt.Errorf("record set requires zoneId, name and type")
	}
	if (c.Alias == nil) == (len(c.Records) == 0) {
		return fmt.Errorf("record set %s must have exactly one of alias or records", c.Name)
	}
	return nil
}

func (c RecordSetConfig) recordSet() *types.ResourceRecordSet {
	rs := &types.ResourceRecordSet{
		Name: aws.String(fqdn(c.Name)),
		Type: types.RRType(c.Type),
	}
	if c.Alias != nil {
		rs.AliasTarget = &types.AliasTarget{
			DNSName:              aws.String(c.Alias.DNSName),
			HostedZoneId:         aws.String(c.Alias.HostedZoneID),
			EvaluateTargetHealth: c.Alias.EvaluateTargetHealth,
		}
		return rs
	}
	ttl := c.TTL
	if ttl == 0 {
		ttl = defaultRecordTTL
	}
	rs.TTL = aws.Int64(int64(ttl))
	for _, r := range c.Records {
		rs.ResourceRecords = append(rs.ResourceRecords, types.ResourceRecord{Value: aws.String(r)})
	}
	return rs
}

// isMissingRecord reports whether a DELETE failed because the record is gone.
func isMissingRecord(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.ErrorCode() == "InvalidChangeBatch" && strings.Contains(ae.ErrorMessage(), "not found")
}

func (p *Provider) changeRecords(ctx context.Context, zone string, action types.ChangeAction, sets ...*types.ResourceRecordSet) error {
	if len(sets) == 0 {
		return nil
	}
	changes := make([]types.Change, 0, len(sets))
	for _, rs := range sets {
		changes = append(changes, types.Change{Action: action, ResourceRecordSet: rs})
	}
	_, err := p.clients.Route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zone),
		ChangeBatch:  &types.ChangeBatch{Changes: changes},
	})
	return err
}

// applyHostedZoneLookup finds an existing public zone. Zones are never created
// or deleted by this provider.
func (p *Provider) applyHostedZoneLookup(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired HostedZoneLookupConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}
	if desired.DomainName == "" {
		return nil, fmt.Errorf("hosted zone lookup %s requires domainName", req.Name)
	}
	want := fqdn(desired.DomainName)

	resp, err := p.clients.Route53.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName: aws.String(want),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list hosted zones: %w", err)
	}

	for _, z := range resp.HostedZones {
		if aws.ToString(z.Name) != want {
			continue
		}
		if z.Config != nil && z.Config.PrivateZone {
			continue
		}
		return stateResponse(HostedZoneLookupState{ID: zoneID(aws.ToString(z.Id)), Name: want})
	}
	return nil, fmt.Errorf("no public hosted zone found for %s", desired.DomainName)
}

func (p *Provider) applyRecordSet(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired RecordSetConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}
	if err := desired.Validate(); err != nil {
		return nil, err
	}

	if err := p.changeRecords(ctx, desired.ZoneID, types.ChangeActionUpsert, desired.recordSet()); err != nil {
		return nil, fmt.Errorf("failed to upsert record %s: %w", desired.Name, err)
	}

	return stateResponse(RecordSetState{RecordSetConfig: desired, FQDN: fqdn(desired.Name)})
}

func (p *Provider) deleteRecordSet(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior RecordSetState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ZoneID == "" {
		return nil
	}
	err := p.changeRecords(ctx, prior.ZoneID, types.ChangeActionDelete, prior.recordSet())
	if err != nil && !isMissingRecord(err) {
		return fmt.Errorf("failed to delete record %s: %w", prior.Name, err)
	}
	return nil
}
