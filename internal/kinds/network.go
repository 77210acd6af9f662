package kinds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elb "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/yairfalse/lassie/pkg/trail"
)

// LoadBalancers reconciles ELBv2 load balancers, identified by ARN. Classic
// load balancers share the event name but have no loadBalancers list in the
// response, so their records never resolve an identifier.
type LoadBalancers struct {
	client ELBAPI
	scope  Scope
}

// NewLoadBalancers creates the load-balancer kind.
func NewLoadBalancers(client ELBAPI, scope Scope) *LoadBalancers {
	return &LoadBalancers{client: client, scope: scope}
}

func (k *LoadBalancers) Name() string { return "load-balancer" }

func (k *LoadBalancers) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateLoadBalancer",
		EventSource: "elasticloadbalancing.amazonaws.com",
		IDPath:      "responseElements.loadBalancers.0.loadBalancerArn",
	}
}

// DescribeTags accepts at most 20 ARNs per call.
const elbTagBatch = 20

func (k *LoadBalancers) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	var arns []string
	var marker *string

	for {
		output, err := k.client.DescribeLoadBalancers(ctx, &elb.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe load balancers: %w", err)
		}

		for _, lb := range output.LoadBalancers {
			if lb.State != nil && lb.State.Code == elbtypes.LoadBalancerStateEnumFailed {
				continue
			}
			arns = append(arns, aws.ToString(lb.LoadBalancerArn))
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	set := NewResourceSet()
	for start := 0; start < len(arns); start += elbTagBatch {
		end := min(start+elbTagBatch, len(arns))
		output, err := k.client.DescribeTags(ctx, &elb.DescribeTagsInput{ResourceArns: arns[start:end]})
		if err != nil {
			return nil, fmt.Errorf("describe tags: %w", err)
		}

		described := make(map[string]bool, end-start)
		for _, desc := range output.TagDescriptions {
			arn := aws.ToString(desc.ResourceArn)
			described[arn] = true
			if !hasKey(desc.Tags, ownerTag, func(t elbtypes.Tag) string { return aws.ToString(t.Key) }) {
				set.Add(arn)
			}
		}
		// a load balancer without tags may be omitted from the response
		for _, arn := range arns[start:end] {
			if !described[arn] {
				set.Add(arn)
			}
		}
	}

	return set, nil
}

func (k *LoadBalancers) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.AddTags(ctx, &elb.AddTagsInput{
		ResourceArns: []string{resourceID},
		Tags:         []elbtypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("add tags to %s: %w", resourceID, err)
	}
	return nil
}
