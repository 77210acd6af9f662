package kinds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/yairfalse/lassie/pkg/trail"
)

// ══════════════════════════════════════════════════════════════════════════════
// Lambda
// ══════════════════════════════════════════════════════════════════════════════

// LambdaFunctions reconciles Lambda functions, identified by unqualified ARN.
type LambdaFunctions struct {
	client LambdaAPI
	scope  Scope
}

// NewLambdaFunctions creates the function kind.
func NewLambdaFunctions(client LambdaAPI, scope Scope) *LambdaFunctions {
	return &LambdaFunctions{client: client, scope: scope}
}

func (k *LambdaFunctions) Name() string { return "lambda-function" }

// Rule matches the versioned event name CloudTrail records for CreateFunction.
func (k *LambdaFunctions) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateFunction20150331",
		EventSource: "lambda.amazonaws.com",
		IDPath:      "responseElements.functionArn",
	}
}

func (k *LambdaFunctions) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var marker *string

	for {
		output, err := k.client.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}

		for _, fn := range output.Functions {
			arn := aws.ToString(fn.FunctionArn)
			tags, err := k.client.ListTags(ctx, &lambda.ListTagsInput{Resource: aws.String(arn)})
			if isCode(err, "ResourceNotFoundException") {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list tags of %s: %w", arn, err)
			}
			if _, ok := tags.Tags[ownerTag]; !ok {
				set.Add(arn)
			}
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return set, nil
}

func (k *LambdaFunctions) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagResource(ctx, &lambda.TagResourceInput{
		Resource: aws.String(resourceID),
		Tags:     map[string]string{key: value},
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// Auto Scaling
// ══════════════════════════════════════════════════════════════════════════════

// AutoScalingGroups reconciles Auto Scaling groups, identified by name.
type AutoScalingGroups struct {
	client AutoScalingAPI
	scope  Scope
}

// NewAutoScalingGroups creates the Auto Scaling group kind.
func NewAutoScalingGroups(client AutoScalingAPI, scope Scope) *AutoScalingGroups {
	return &AutoScalingGroups{client: client, scope: scope}
}

func (k *AutoScalingGroups) Name() string { return "autoscaling-group" }

// Rule guards on requestParameters: CreateAutoScalingGroup has no response body.
func (k *AutoScalingGroups) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateAutoScalingGroup",
		EventSource: "autoscaling.amazonaws.com",
		Guard:       "requestParameters",
		IDPath:      "requestParameters.autoScalingGroupName",
	}
}

func (k *AutoScalingGroups) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		output, err := k.client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe auto scaling groups: %w", err)
		}

		for _, group := range output.AutoScalingGroups {
			// Status is only set while the group is being deleted
			if group.Status != nil {
				continue
			}
			if !hasKey(group.Tags, ownerTag, func(t asgtypes.TagDescription) string { return aws.ToString(t.Key) }) {
				set.Add(aws.ToString(group.AutoScalingGroupName))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return set, nil
}

func (k *AutoScalingGroups) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.CreateOrUpdateTags(ctx, &autoscaling.CreateOrUpdateTagsInput{
		Tags: []asgtypes.Tag{{
			Key:               aws.String(key),
			Value:             aws.String(value),
			ResourceId:        aws.String(resourceID),
			ResourceType:      aws.String("auto-scaling-group"),
			PropagateAtLaunch: aws.Bool(false),
		}},
	})
	if err != nil {
		return fmt.Errorf("create or update tags on %s: %w", resourceID, err)
	}
	return nil
}
