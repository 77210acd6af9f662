package kinds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	mdbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"

	"github.com/yairfalse/lassie/pkg/trail"
)

// ══════════════════════════════════════════════════════════════════════════════
// Redshift
// ══════════════════════════════════════════════════════════════════════════════

// RedshiftClusters reconciles Redshift clusters. CreateCluster only records
// the cluster identifier, so both sides are keyed by the synthesized ARN.
type RedshiftClusters struct {
	client RedshiftAPI
	scope  Scope
}

// NewRedshiftClusters creates the Redshift cluster kind.
func NewRedshiftClusters(client RedshiftAPI, scope Scope) *RedshiftClusters {
	return &RedshiftClusters{client: client, scope: scope}
}

func (k *RedshiftClusters) Name() string { return "redshift-cluster" }

func (k *RedshiftClusters) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateCluster",
		EventSource: "redshift.amazonaws.com",
		IDPath:      "requestParameters.clusterIdentifier",
		Qualify:     k.arn,
	}
}

func (k *RedshiftClusters) arn(id string) string {
	return k.scope.arn("redshift", "cluster:"+id)
}

func (k *RedshiftClusters) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var marker *string

	for {
		output, err := k.client.DescribeClusters(ctx, &redshift.DescribeClustersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe clusters: %w", err)
		}

		for _, cluster := range output.Clusters {
			switch aws.ToString(cluster.ClusterStatus) {
			case "deleting", "final-snapshot":
				continue
			}
			if !hasKey(cluster.Tags, ownerTag, func(t redshifttypes.Tag) string { return aws.ToString(t.Key) }) {
				set.Add(k.arn(aws.ToString(cluster.ClusterIdentifier)))
			}
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return set, nil
}

func (k *RedshiftClusters) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.CreateTags(ctx, &redshift.CreateTagsInput{
		ResourceName: aws.String(resourceID),
		Tags:         []redshifttypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("create tags on %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EKS
// ══════════════════════════════════════════════════════════════════════════════

// EKSClusters reconciles EKS clusters, identified by ARN.
type EKSClusters struct {
	client EKSAPI
	scope  Scope
}

// NewEKSClusters creates the EKS cluster kind.
func NewEKSClusters(client EKSAPI, scope Scope) *EKSClusters {
	return &EKSClusters{client: client, scope: scope}
}

func (k *EKSClusters) Name() string { return "eks-cluster" }

func (k *EKSClusters) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateCluster",
		EventSource: "eks.amazonaws.com",
		IDPath:      "responseElements.cluster.arn",
	}
}

func (k *EKSClusters) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		output, err := k.client.ListClusters(ctx, &eks.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list clusters: %w", err)
		}

		for _, name := range output.Clusters {
			desc, err := k.client.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if isCode(err, "ResourceNotFoundException") {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("describe cluster %s: %w", name, err)
			}
			cluster := desc.Cluster
			if cluster == nil {
				continue
			}
			switch cluster.Status {
			case ekstypes.ClusterStatusDeleting, ekstypes.ClusterStatusFailed:
				continue
			}
			if _, ok := cluster.Tags[ownerTag]; !ok {
				set.Add(aws.ToString(cluster.Arn))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return set, nil
}

func (k *EKSClusters) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagResource(ctx, &eks.TagResourceInput{
		ResourceArn: aws.String(resourceID),
		Tags:        map[string]string{key: value},
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ECS
// ══════════════════════════════════════════════════════════════════════════════

// ECSClusters reconciles ECS clusters, identified by ARN.
type ECSClusters struct {
	client ECSAPI
	scope  Scope
}

// NewECSClusters creates the ECS cluster kind.
func NewECSClusters(client ECSAPI, scope Scope) *ECSClusters {
	return &ECSClusters{client: client, scope: scope}
}

func (k *ECSClusters) Name() string { return "ecs-cluster" }

func (k *ECSClusters) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateCluster",
		EventSource: "ecs.amazonaws.com",
		IDPath:      "responseElements.cluster.clusterArn",
	}
}

// DescribeClusters accepts at most 100 clusters per call.
const ecsDescribeBatch = 100

func (k *ECSClusters) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	var arns []string
	var nextToken *string

	for {
		output, err := k.client.ListClusters(ctx, &ecs.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list clusters: %w", err)
		}
		arns = append(arns, output.ClusterArns...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	set := NewResourceSet()
	for start := 0; start < len(arns); start += ecsDescribeBatch {
		end := min(start+ecsDescribeBatch, len(arns))
		output, err := k.client.DescribeClusters(ctx, &ecs.DescribeClustersInput{
			Clusters: arns[start:end],
			Include:  []ecstypes.ClusterField{ecstypes.ClusterFieldTags},
		})
		if err != nil {
			return nil, fmt.Errorf("describe clusters: %w", err)
		}

		for _, cluster := range output.Clusters {
			switch aws.ToString(cluster.Status) {
			case "INACTIVE", "DEPROVISIONING":
				continue
			}
			if !hasKey(cluster.Tags, ownerTag, func(t ecstypes.Tag) string { return aws.ToString(t.Key) }) {
				set.Add(aws.ToString(cluster.ClusterArn))
			}
		}
	}

	return set, nil
}

func (k *ECSClusters) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagResource(ctx, &ecs.TagResourceInput{
		ResourceArn: aws.String(resourceID),
		Tags:        []ecstypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MemoryDB
// ══════════════════════════════════════════════════════════════════════════════

// MemoryDBClusters reconciles MemoryDB clusters. The audit record carries the
// cluster name, which is qualified into the cluster ARN.
type MemoryDBClusters struct {
	client MemoryDBAPI
	scope  Scope
}

// NewMemoryDBClusters creates the MemoryDB cluster kind.
func NewMemoryDBClusters(client MemoryDBAPI, scope Scope) *MemoryDBClusters {
	return &MemoryDBClusters{client: client, scope: scope}
}

func (k *MemoryDBClusters) Name() string { return "memorydb-cluster" }

func (k *MemoryDBClusters) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateCluster",
		EventSource: "memorydb.amazonaws.com",
		IDPath:      "requestParameters.clusterName",
		Qualify: func(name string) string {
			return k.scope.arn("memorydb", "cluster/"+name)
		},
	}
}

func (k *MemoryDBClusters) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		output, err := k.client.DescribeClusters(ctx, &memorydb.DescribeClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe clusters: %w", err)
		}

		for _, cluster := range output.Clusters {
			if aws.ToString(cluster.Status) == "deleting" {
				continue
			}
			arn := aws.ToString(cluster.ARN)
			tags, err := k.client.ListTags(ctx, &memorydb.ListTagsInput{ResourceArn: aws.String(arn)})
			if isCode(err, "ClusterNotFoundFault") {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list tags of %s: %w", arn, err)
			}
			if !hasKey(tags.TagList, ownerTag, func(t mdbtypes.Tag) string { return aws.ToString(t.Key) }) {
				set.Add(arn)
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return set, nil
}

func (k *MemoryDBClusters) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagResource(ctx, &memorydb.TagResourceInput{
		ResourceArn: aws.String(resourceID),
		Tags:        []mdbtypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMR
// ══════════════════════════════════════════════════════════════════════════════

// EMRClusters reconciles EMR clusters, identified by cluster id (j-...).
// Clusters that are terminating or terminated are not live.
type EMRClusters struct {
	client EMRAPI
	scope  Scope
}

// NewEMRClusters creates the EMR cluster kind.
func NewEMRClusters(client EMRAPI, scope Scope) *EMRClusters {
	return &EMRClusters{client: client, scope: scope}
}

func (k *EMRClusters) Name() string { return "emr-cluster" }

func (k *EMRClusters) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "RunJobFlow",
		EventSource: "elasticmapreduce.amazonaws.com",
		IDPath:      "responseElements.jobFlowId",
	}
}

var activeEMRStates = []emrtypes.ClusterState{
	emrtypes.ClusterStateStarting,
	emrtypes.ClusterStateBootstrapping,
	emrtypes.ClusterStateRunning,
	emrtypes.ClusterStateWaiting,
}

func (k *EMRClusters) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var marker *string

	for {
		output, err := k.client.ListClusters(ctx, &emr.ListClustersInput{
			ClusterStates: activeEMRStates,
			Marker:        marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list clusters: %w", err)
		}

		for _, summary := range output.Clusters {
			id := aws.ToString(summary.Id)
			desc, err := k.client.DescribeCluster(ctx, &emr.DescribeClusterInput{ClusterId: aws.String(id)})
			if err != nil {
				return nil, fmt.Errorf("describe cluster %s: %w", id, err)
			}
			cluster := desc.Cluster
			if cluster == nil || !emrActive(cluster.Status) {
				continue
			}
			if !hasKey(cluster.Tags, ownerTag, func(t emrtypes.Tag) string { return aws.ToString(t.Key) }) {
				set.Add(id)
			}
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return set, nil
}

// emrActive rechecks the state at describe time; a cluster may have started
// terminating since it was listed.
func emrActive(status *emrtypes.ClusterStatus) bool {
	if status == nil {
		return false
	}
	switch status.State {
	case emrtypes.ClusterStateTerminating, emrtypes.ClusterStateTerminated, emrtypes.ClusterStateTerminatedWithErrors:
		return false
	}
	return true
}

func (k *EMRClusters) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.AddTags(ctx, &emr.AddTagsInput{
		ResourceId: aws.String(resourceID),
		Tags:       []emrtypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("add tags to %s: %w", resourceID, err)
	}
	return nil
}
