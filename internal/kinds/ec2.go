package kinds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/lassie/pkg/trail"
)

const ec2Source = "ec2.amazonaws.com"

func ec2TagKey(t ec2types.Tag) string { return aws.ToString(t.Key) }

func ec2CreateTag(ctx context.Context, client EC2API, id, key, value string) error {
	_, err := client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      []ec2types.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("create tags on %s: %w", id, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// Instances
// ══════════════════════════════════════════════════════════════════════════════

// EC2Instances reconciles EC2 instances.
type EC2Instances struct {
	client EC2API
	scope  Scope
}

// NewEC2Instances creates the instance kind.
func NewEC2Instances(client EC2API, scope Scope) *EC2Instances {
	return &EC2Instances{client: client, scope: scope}
}

func (k *EC2Instances) Name() string { return "ec2-instance" }

// Rule only takes the first instance of a launch; RunInstances records
// carry one owner for the whole reservation.
func (k *EC2Instances) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "RunInstances",
		EventSource: ec2Source,
		IDPath:      "responseElements.instancesSet.items.0.instanceId",
	}
}

var liveInstanceStates = []string{"pending", "running", "stopping", "stopped"}

func (k *EC2Instances) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		output, err := k.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters:   []ec2types.Filter{{Name: aws.String("instance-state-name"), Values: liveInstanceStates}},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				if instance.State != nil {
					switch instance.State.Name {
					case ec2types.InstanceStateNameShuttingDown, ec2types.InstanceStateNameTerminated:
						continue
					}
				}
				if !hasKey(instance.Tags, ownerTag, ec2TagKey) {
					set.Add(aws.ToString(instance.InstanceId))
				}
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return set, nil
}

func (k *EC2Instances) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	return ec2CreateTag(ctx, k.client, resourceID, key, value)
}

// ══════════════════════════════════════════════════════════════════════════════
// Volumes
// ══════════════════════════════════════════════════════════════════════════════

// EBSVolumes reconciles EBS volumes.
type EBSVolumes struct {
	client EC2API
	scope  Scope
}

// NewEBSVolumes creates the volume kind.
func NewEBSVolumes(client EC2API, scope Scope) *EBSVolumes {
	return &EBSVolumes{client: client, scope: scope}
}

func (k *EBSVolumes) Name() string { return "ebs-volume" }

func (k *EBSVolumes) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateVolume",
		EventSource: ec2Source,
		IDPath:      "responseElements.volumeId",
	}
}

func (k *EBSVolumes) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		output, err := k.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
			Filters:   []ec2types.Filter{{Name: aws.String("status"), Values: []string{"creating", "available", "in-use"}}},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe volumes: %w", err)
		}

		for _, vol := range output.Volumes {
			switch vol.State {
			case ec2types.VolumeStateDeleting, ec2types.VolumeStateDeleted, ec2types.VolumeStateError:
				continue
			}
			if !hasKey(vol.Tags, ownerTag, ec2TagKey) {
				set.Add(aws.ToString(vol.VolumeId))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return set, nil
}

func (k *EBSVolumes) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	return ec2CreateTag(ctx, k.client, resourceID, key, value)
}

// ══════════════════════════════════════════════════════════════════════════════
// Security groups
// ══════════════════════════════════════════════════════════════════════════════

// SecurityGroups reconciles VPC security groups.
type SecurityGroups struct {
	client EC2API
	scope  Scope
}

// NewSecurityGroups creates the security-group kind.
func NewSecurityGroups(client EC2API, scope Scope) *SecurityGroups {
	return &SecurityGroups{client: client, scope: scope}
}

func (k *SecurityGroups) Name() string { return "security-group" }

func (k *SecurityGroups) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateSecurityGroup",
		EventSource: ec2Source,
		IDPath:      "responseElements.groupId",
	}
}

func (k *SecurityGroups) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		output, err := k.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}

		for _, sg := range output.SecurityGroups {
			if !hasKey(sg.Tags, ownerTag, ec2TagKey) {
				set.Add(aws.ToString(sg.GroupId))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return set, nil
}

func (k *SecurityGroups) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	return ec2CreateTag(ctx, k.client, resourceID, key, value)
}
