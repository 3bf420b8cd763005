package aws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

func decodeDesired(req *plugin.ApplyRequest, v any) error {
	if err := json.Unmarshal(req.DesiredConfigJSON, v); err != nil {
		return fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	return nil
}

func decodePrior(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	return nil
}

func stateResponse(v any) (*plugin.ApplyResponse, error) {
	stateJSON, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return &plugin.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// ec2Tags converts a tag map to SDK tags in key order, so requests are stable.
func ec2Tags(tags map[string]string) []ec2types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func tagSpec(rt ec2types.ResourceType, tags map[string]string) []ec2types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	return []ec2types.TagSpecification{{ResourceType: rt, Tags: ec2Tags(tags)}}
}

// isNotFound reports whether err is an API error carrying one of codes.
// Deletes treat these as already gone.
func isNotFound(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	for _, c := range codes {
		if ae.ErrorCode() == c {
			return true
		}
	}
	return false
}
