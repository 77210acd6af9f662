package kinds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yairfalse/lassie/pkg/trail"
)

// S3Buckets reconciles buckets located in the scope's region. ListBuckets
// is global, so every region sees every bucket and filters by location.
type S3Buckets struct {
	client S3API
	scope  Scope
}

// NewS3Buckets creates the bucket kind.
func NewS3Buckets(client S3API, scope Scope) *S3Buckets {
	return &S3Buckets{client: client, scope: scope}
}

func (k *S3Buckets) Name() string { return "s3-bucket" }

// Rule guards on requestParameters: CreateBucket has no response body.
func (k *S3Buckets) Rule() trail.Rule {
	return trail.Rule{
		EventName:   "CreateBucket",
		EventSource: "s3.amazonaws.com",
		Guard:       "requestParameters",
		IDPath:      "requestParameters.bucketName",
	}
}

func (k *S3Buckets) QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error) {
	output, err := k.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	set := NewResourceSet()
	for _, bucket := range output.Buckets {
		name := aws.ToString(bucket.Name)

		region, err := k.bucketRegion(ctx, name)
		if isCode(err, "NoSuchBucket") {
			continue
		}
		if err != nil {
			return nil, err
		}
		if region != k.scope.Region {
			continue
		}

		tags, err := k.bucketTags(ctx, name)
		if isCode(err, "NoSuchBucket") {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !hasKey(tags, ownerTag, s3TagKey) {
			set.Add(name)
		}
	}

	return set, nil
}

func (k *S3Buckets) bucketRegion(ctx context.Context, name string) (string, error) {
	// the partition's default region answers for buckets in any region
	output, err := k.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(name)}, func(o *s3.Options) {
		o.Region = k.scope.defaultRegion()
	})
	if err != nil {
		return "", fmt.Errorf("get bucket location %s: %w", name, err)
	}
	return locationRegion(output.LocationConstraint), nil
}

// locationRegion maps a location constraint to a region name. Buckets in
// us-east-1 report an empty constraint, and "EU" is the legacy eu-west-1.
func locationRegion(c s3types.BucketLocationConstraint) string {
	switch c {
	case "":
		return "us-east-1"
	case s3types.BucketLocationConstraintEu:
		return "eu-west-1"
	}
	return string(c)
}

func (k *S3Buckets) bucketTags(ctx context.Context, name string) ([]s3types.Tag, error) {
	output, err := k.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(name)})
	if isCode(err, "NoSuchTagSet") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket tagging %s: %w", name, err)
	}
	return output.TagSet, nil
}

func s3TagKey(t s3types.Tag) string { return aws.ToString(t.Key) }

// ApplyTag merges the tag into the bucket's tag set; PutBucketTagging
// replaces the whole set.
func (k *S3Buckets) ApplyTag(ctx context.Context, resourceID, key, value string) error {
	existing, err := k.bucketTags(ctx, resourceID)
	if err != nil {
		return err
	}

	tags := make([]s3types.Tag, 0, len(existing)+1)
	for _, t := range existing {
		if aws.ToString(t.Key) != key {
			tags = append(tags, t)
		}
	}
	tags = append(tags, s3types.Tag{Key: aws.String(key), Value: aws.String(value)})

	_, err = k.client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(resourceID),
		Tagging: &s3types.Tagging{TagSet: tags},
	})
	if err != nil {
		return fmt.Errorf("put bucket tagging %s: %w", resourceID, err)
	}
	return nil
}
