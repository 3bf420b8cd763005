package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/picklr-io/splunk-stack/internal/logging"
	"github.com/picklr-io/splunk-stack/pkg/plugin"
)

type ImageLookupConfig struct {
	NamePattern string   `json:"namePattern"`
	Owners      []string `json:"owners,omitempty"`
}

type ImageLookupState struct {
	ImageID      string `json:"imageId"`
	Name         string `json:"name"`
	CreationDate string `json:"creationDate"`
	Candidates   int    `json:"candidates"`
}

type InstanceConfig struct {
	AMI              string            `json:"ami"`
	InstanceType     string            `json:"instanceType"`
	SubnetID         string            `json:"subnetId"`
	SecurityGroupIDs []string          `json:"securityGroupIds,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

type InstanceState struct {
	ID               string `json:"id"`
	ImageID          string `json:"imageId"`
	PrivateIP        string `json:"privateIp"`
	AvailabilityZone string `json:"availabilityZone"`
}

// newestImage picks the most recently created image. Ties on creation date
// break on image id so the choice is stable for a given catalog snapshot.
func newestImage(images []types.Image) (types.Image, bool) {
	if len(images) == 0 {
		return types.Image{}, false
	}
	sorted := append([]types.Image(nil), images...)
	sort.Slice(sorted, func(i, j int) bool {
		ci, cj := aws.ToString(sorted[i].CreationDate), aws.ToString(sorted[j].CreationDate)
		if ci != cj {
			return ci > cj
		}
		return aws.ToString(sorted[i].ImageId) < aws.ToString(sorted[j].ImageId)
	})
	return sorted[0], true
}

// applyImageLookup resolves a name pattern against the image catalog. The
// result is pinned in state; the catalog is only consulted again when the
// lookup itself is replaced.
func (p *Provider) applyImageLookup(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired ImageLookupConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}
	if desired.NamePattern == "" {
		return nil, fmt.Errorf("image lookup %s requires namePattern", req.Name)
	}

	input := &ec2.DescribeImagesInput{
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{desired.NamePattern}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
		Owners: desired.Owners,
	}

	var images []types.Image
	paginator := ec2.NewDescribeImagesPaginator(p.clients.EC2, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe images matching %q: %w", desired.NamePattern, err)
		}
		images = append(images, page.Images...)
	}

	img, ok := newestImage(images)
	if !ok {
		return nil, fmt.Errorf("no available image matches %q", desired.NamePattern)
	}
	if len(images) > 1 {
		logging.Warn("image pattern is ambiguous, using newest match",
			"pattern", desired.NamePattern, "candidates", len(images), "image", aws.ToString(img.ImageId))
	}

	return stateResponse(ImageLookupState{
		ImageID:      aws.ToString(img.ImageId),
		Name:         aws.ToString(img.Name),
		CreationDate: aws.ToString(img.CreationDate),
		Candidates:   len(images),
	})
}

func (p *Provider) planInstance(ctx context.Context, req *plugin.PlanRequest) (*plugin.PlanResponse, error) {
	if req.PriorStateJSON == nil {
		return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
	}

	var prior InstanceState
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	// Drift: an instance terminated outside the tool is created again.
	resp, err := p.clients.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{prior.ID},
	})
	if err != nil {
		if isNotFound(err, "InvalidInstanceID.NotFound") {
			return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
		}
		return nil, fmt.Errorf("failed to describe instance: %w", err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
	}
	instance := resp.Reservations[0].Instances[0]
	if instance.State != nil && (instance.State.Name == types.InstanceStateNameTerminated ||
		instance.State.Name == types.InstanceStateNameShuttingDown) {
		return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
	}

	return plugin.PlanByAttributes(req, forceNew[TypeInstance])
}

func (p *Provider) applyInstance(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired InstanceConfig
	if err := decodeDesired(req, &desired); err != nil {
		return nil, err
	}

	// In place, only tags can change.
	if req.PriorStateJSON != nil {
		var prior InstanceState
		if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
			return nil, err
		}
		if len(desired.Tags) > 0 {
			if _, err := p.clients.EC2.CreateTags(ctx, &ec2.CreateTagsInput{
				Resources: []string{prior.ID},
				Tags:      ec2Tags(desired.Tags),
			}); err != nil {
				return nil, fmt.Errorf("failed to update tags: %w", err)
			}
		}
		return &plugin.ApplyResponse{NewStateJSON: req.PriorStateJSON}, nil
	}

	resp, err := p.clients.EC2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:           aws.String(desired.AMI),
		InstanceType:      types.InstanceType(desired.InstanceType),
		SubnetId:          aws.String(desired.SubnetID),
		SecurityGroupIds:  desired.SecurityGroupIDs,
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		TagSpecifications: tagSpec(types.ResourceTypeInstance, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(resp.Instances) == 0 {
		return nil, fmt.Errorf("no instances created")
	}
	instanceID := aws.ToString(resp.Instances[0].InstanceId)

	waiter := ec2.NewInstanceRunningWaiter(p.clients.EC2)
	out, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, p.WaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for instance running: %w", err)
	}

	state := InstanceState{ID: instanceID, ImageID: desired.AMI}
	if len(out.Reservations) > 0 && len(out.Reservations[0].Instances) > 0 {
		inst := out.Reservations[0].Instances[0]
		state.PrivateIP = aws.ToString(inst.PrivateIpAddress)
		if inst.Placement != nil {
			state.AvailabilityZone = aws.ToString(inst.Placement.AvailabilityZone)
		}
	}
	return stateResponse(state)
}

func (p *Provider) deleteInstance(ctx context.Context, req *plugin.DeleteRequest) error {
	var prior InstanceState
	if err := decodePrior(req.PriorStateJSON, &prior); err != nil {
		return err
	}
	if prior.ID == "" {
		return nil
	}

	_, err := p.clients.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{prior.ID},
	})
	if err != nil {
		if isNotFound(err, "InvalidInstanceID.NotFound") {
			return nil
		}
		return fmt.Errorf("failed to terminate instance: %w", err)
	}

	// The security group cannot be deleted while the instance's ENI exists.
	waiter := ec2.NewInstanceTerminatedWaiter(p.clients.EC2)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{prior.ID}}, p.WaitTimeout); err != nil {
		return fmt.Errorf("failed to wait for instance termination: %w", err)
	}
	return nil
}
