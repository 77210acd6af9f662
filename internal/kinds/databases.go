package kinds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/lassie/pkg/trail"
)

// ══════════════════════════════════════════════════════════════════════════════
// RDS
// ══════════════════════════════════════════════════════════════════════════════

// RDSInstances reconciles RDS database instances, identified by ARN.
type RDSInstances struct {
	client RDSAPI
	scope  Scope
}

// NewRDSInstances creates the database-instance kind.
func NewRDSInstances(client RDSAPI, scope Scope) *RDSInstances {
	return &RDSInstances{client: client, scope: scope}
}

func (k *RDSInstances) Name() string { return "rds-instance" }

func (k *RDSInstances) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateDBInstance",
		EventSource: "rds.amazonaws.com",
		IDPath:      "responseElements.dBInstanceArn",
	}
}

func (k *RDSInstances) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var marker *string

	for {
		output, err := k.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}

		for _, instance := range output.DBInstances {
			if aws.ToString(instance.DBInstanceStatus) == "deleting" {
				continue
			}
			if !hasKey(instance.TagList, ownerTag, func(t rdstypes.Tag) string { return aws.ToString(t.Key) }) {
				set.Add(aws.ToString(instance.DBInstanceArn))
			}
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return set, nil
}

func (k *RDSInstances) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.AddTagsToResource(ctx, &rds.AddTagsToResourceInput{
		ResourceName: aws.String(resourceID),
		Tags:         []rdstypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("add tags to %s: %w", resourceID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DynamoDB
// ══════════════════════════════════════════════════════════════════════════════

// DynamoDBTables reconciles DynamoDB tables, identified by ARN.
type DynamoDBTables struct {
	client DynamoDBAPI
	scope  Scope
}

// NewDynamoDBTables creates the table kind.
func NewDynamoDBTables(client DynamoDBAPI, scope Scope) *DynamoDBTables {
	return &DynamoDBTables{client: client, scope: scope}
}

func (k *DynamoDBTables) Name() string { return "dynamodb-table" }

func (k *DynamoDBTables) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateTable",
		EventSource: "dynamodb.amazonaws.com",
		IDPath:      "responseElements.tableDescription.tableArn",
	}
}

func (k *DynamoDBTables) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	set := NewResourceSet()
	var startTable *string

	for {
		output, err := k.client.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: startTable})
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}

		for _, name := range output.TableNames {
			desc, err := k.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
			if isCode(err, "ResourceNotFoundException") {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("describe table %s: %w", name, err)
			}
			if desc.Table == nil || desc.Table.TableStatus == ddbtypes.TableStatusDeleting {
				continue
			}

			arn := aws.ToString(desc.Table.TableArn)
			tagged, err := k.tagged(ctx, arn, ownerTag)
			if err != nil {
				return nil, err
			}
			if !tagged {
				set.Add(arn)
			}
		}

		if output.LastEvaluatedTableName == nil {
			break
		}
		startTable = output.LastEvaluatedTableName
	}

	return set, nil
}

func (k *DynamoDBTables) tagged(ctx context.Context, arn, ownerTag string) (bool, error) {
	var nextToken *string
	for {
		output, err := k.client.ListTagsOfResource(ctx, &dynamodb.ListTagsOfResourceInput{
			ResourceArn: aws.String(arn),
			NextToken:   nextToken,
		})
		if err != nil {
			return false, fmt.Errorf("list tags of %s: %w", arn, err)
		}
		if hasKey(output.Tags, ownerTag, func(t ddbtypes.Tag) string { return aws.ToString(t.Key) }) {
			return true, nil
		}
		if output.NextToken == nil {
			return false, nil
		}
		nextToken = output.NextToken
	}
}

func (k *DynamoDBTables) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	_, err := k.client.TagResource(ctx, &dynamodb.TagResourceInput{
		ResourceArn: aws.String(resourceID),
		Tags:        []ddbtypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", resourceID, err)
	}
	return nil
}
