package kinds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/yairfalse/lassie/pkg/trail"
)

// ══════════════════════════════════════════════════════════════════════════════
// SQS
// ══════════════════════════════════════════════════════════════════════════════

// SQSQueues reconciles SQS queues, identified by queue URL.
type SQSQueues struct {
	client SQSAPI
	scope  Scope
}

// NewSQSQueues creates the queue kind.
func NewSQSQueues(client SQSAPI, scope Scope) *SQSQueues {
	return &SQSQueues{client: client, scope: scope}
}

func (k *SQSQueues) Name() string { return "sqs-queue" }

func (k *SQSQueues) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateQueue",
		EventSource: "sqs.amazonaws.com",
		IDPath:      "responseElements.queueUrl",
	}
}

func (k *SQSQueues) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		// NextToken is only returned when MaxResults is set
		output, err := k.client.ListQueues(ctx, &sqs.ListQueuesInput{
			MaxResults: aws.Int32(1000),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list queues: %w", err)
		}

		for _, url := range output.QueueUrls {
			tags, err := k.client.ListQueueTags(ctx, &sqs.ListQueueTagsInput{QueueUrl: aws.String(url)})
			if isCode(err, "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist") {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list queue tags %s: %w", url, err)
			}
			if _, ok := tags.Tags[ownerTag]; !ok {
				set.Add(url)
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return set, nil
}

func (k *SQSQueues) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagQueue(ctx, &sqs.TagQueueInput{
		QueueUrl: aws.String(resourceID),
		Tags:     map[string]string{key: value},
	})
	if err != nil {
		return fmt.Errorf("tag queue %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ECR
// ══════════════════════════════════════════════════════════════════════════════

// ECRRepositories reconciles ECR repositories, identified by ARN.
type ECRRepositories struct {
	client ECRAPI
	scope  Scope
}

// NewECRRepositories creates the repository kind.
func NewECRRepositories(client ECRAPI, scope Scope) *ECRRepositories {
	return &ECRRepositories{client: client, scope: scope}
}

func (k *ECRRepositories) Name() string { return "ecr-repository" }

func (k *ECRRepositories) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateRepository",
		EventSource: "ecr.amazonaws.com",
		IDPath:      "responseElements.repository.repositoryArn",
	}
}

func (k *ECRRepositories) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		output, err := k.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe repositories: %w", err)
		}

		for _, repo := range output.Repositories {
			arn := aws.ToString(repo.RepositoryArn)
			tags, err := k.client.ListTagsForResource(ctx, &ecr.ListTagsForResourceInput{ResourceArn: aws.String(arn)})
			if isCode(err, "RepositoryNotFoundException") {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list tags of %s: %w", arn, err)
			}
			if !hasKey(tags.Tags, ownerTag, func(t ecrtypes.Tag) string { return aws.ToString(t.Key) }) {
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

func (k *ECRRepositories) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagResource(ctx, &ecr.TagResourceInput{
		ResourceArn: aws.String(resourceID),
		Tags:        []ecrtypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// KMS
// ══════════════════════════════════════════════════════════════════════════════

// KMSKeys reconciles customer managed KMS keys, identified by ARN. AWS
// managed keys cannot be tagged and are skipped.
type KMSKeys struct {
	client KMSAPI
	scope  Scope
}

// NewKMSKeys creates the key kind.
func NewKMSKeys(client KMSAPI, scope Scope) *KMSKeys {
	return &KMSKeys{client: client, scope: scope}
}

func (k *KMSKeys) Name() string { return "kms-key" }

func (k *KMSKeys) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateKey",
		EventSource: "kms.amazonaws.com",
		IDPath:      "responseElements.keyMetadata.arn",
	}
}

func (k *KMSKeys) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var marker *string

	for {
		output, err := k.client.ListKeys(ctx, &kms.ListKeysInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}

		for _, entry := range output.Keys {
			id := aws.ToString(entry.KeyId)
			desc, err := k.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(id)})
			if isCode(err, "NotFoundException") {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("describe key %s: %w", id, err)
			}
			meta := desc.KeyMetadata
			if meta == nil || meta.KeyManager == kmstypes.KeyManagerTypeAws {
				continue
			}
			switch meta.KeyState {
			case kmstypes.KeyStatePendingDeletion, kmstypes.KeyStatePendingReplicaDeletion:
				continue
			}

			tagged, err := k.tagged(ctx, id, ownerTag)
			if err != nil {
				return nil, err
			}
			if !tagged {
				set.Add(aws.ToString(meta.Arn))
			}
		}

		if !output.Truncated || output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return set, nil
}

func (k *KMSKeys) tagged(ctx context.Context, keyID, ownerTag string) (bool, error) {
	var marker *string
	for {
		output, err := k.client.ListResourceTags(ctx, &kms.ListResourceTagsInput{KeyId: aws.String(keyID), Marker: marker})
		if err != nil {
			return false, fmt.Errorf("list resource tags %s: %w", keyID, err)
		}
		if hasKey(output.Tags, ownerTag, func(t kmstypes.Tag) string { return aws.ToString(t.TagKey) }) {
			return true, nil
		}
		if !output.Truncated || output.NextMarker == nil {
			return false, nil
		}
		marker = output.NextMarker
	}
}

func (k *KMSKeys) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagResource(ctx, &kms.TagResourceInput{
		KeyId: aws.String(resourceID),
		Tags:  []kmstypes.Tag{{TagKey: aws.String(key), TagValue: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CloudWatch Logs
// ══════════════════════════════════════════════════════════════════════════════

// LogGroups reconciles log groups, identified by name.
type LogGroups struct {
	client CloudWatchLogsAPI
	scope  Scope
}

// NewLogGroups creates the log-group kind.
func NewLogGroups(client CloudWatchLogsAPI, scope Scope) *LogGroups {
	return &LogGroups{client: client, scope: scope}
}

func (k *LogGroups) Name() string { return "log-group" }

// Rule guards on requestParameters: CreateLogGroup has no response body.
func (k *LogGroups) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateLogGroup",
		EventSource: "logs.amazonaws.com",
		Guard:       "requestParameters",
		IDPath:      "requestParameters.logGroupName",
	}
}

// arn is the log group ARN without the trailing ":*" that DescribeLogGroups
// reports; the tagging APIs reject that form.
func (k *LogGroups) arn(name string) string {
	return k.scope.arn("logs", "log-group:"+name)
}

func (k *LogGroups) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var nextToken *string

	for {
		output, err := k.client.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe log groups: %w", err)
		}

		for _, group := range output.LogGroups {
			name := aws.ToString(group.LogGroupName)
			tags, err := k.client.ListTagsForResource(ctx, &cloudwatchlogs.ListTagsForResourceInput{ResourceArn: aws.String(k.arn(name))})
			if isCode(err, "ResourceNotFoundException") {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list tags of log group %s: %w", name, err)
			}
			if _, ok := tags.Tags[ownerTag]; !ok {
				set.Add(name)
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return set, nil
}

func (k *LogGroups) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagResource(ctx, &cloudwatchlogs.TagResourceInput{
		ResourceArn: aws.String(k.arn(resourceID)),
		Tags:        map[string]string{key: value},
	})
	if err != nil {
		return fmt.Errorf("tag log group %s: %w", resourceID, err)
	}
	return nil
}
