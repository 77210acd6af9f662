package kinds

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Buckets_QueryUntagged(t *testing.T) {
	locations := map[string]s3types.BucketLocationConstraint{
		"east-untagged": "",
		"east-tagged":   "",
		"west-bucket":   s3types.BucketLocationConstraintUsWest2,
		"no-tags":       "",
		"gone":          "",
	}

	mock := &mockS3Client{
		ListBucketsFunc: func(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
			var buckets []s3types.Bucket
			for _, name := range []string{"east-untagged", "east-tagged", "west-bucket", "no-tags", "gone"} {
				buckets = append(buckets, s3types.Bucket{Name: aws.String(name)})
			}
			return &s3.ListBucketsOutput{Buckets: buckets}, nil
		},
		GetBucketLocationFunc: func(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
			opts := s3.Options{Region: "eu-west-1"}
			for _, fn := range optFns {
				fn(&opts)
			}
			assert.Equal(t, "us-east-1", opts.Region)
			return &s3.GetBucketLocationOutput{LocationConstraint: locations[aws.ToString(params.Bucket)]}, nil
		},
		GetBucketTaggingFunc: func(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
			switch aws.ToString(params.Bucket) {
			case "east-tagged":
				return &s3.GetBucketTaggingOutput{TagSet: []s3types.Tag{{Key: aws.String("Owner"), Value: aws.String("x")}}}, nil
			case "no-tags":
				return nil, &smithy.GenericAPIError{Code: "NoSuchTagSet"}
			case "gone":
				return nil, &smithy.GenericAPIError{Code: "NoSuchBucket"}
			case "west-bucket":
				t.Fatal("tags read for bucket in another region")
			}
			return &s3.GetBucketTaggingOutput{TagSet: []s3types.Tag{{Key: aws.String("team"), Value: aws.String("a")}}}, nil
		},
	}

	set, err := NewS3Buckets(mock, Scope{AccountID: "123456789012", Region: "us-east-1"}).QueryUntagged(context.Background(), "Owner")
	require.NoError(t, err)
	assert.Equal(t, []string{"east-untagged", "no-tags"}, set.IDs())
}

func TestS3Buckets_ApplyTagMerges(t *testing.T) {
	var put *s3.PutBucketTaggingInput
	mock := &mockS3Client{
		GetBucketTaggingFunc: func(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
			return &s3.GetBucketTaggingOutput{TagSet: []s3types.Tag{
				{Key: aws.String("team"), Value: aws.String("data")},
				{Key: aws.String("Owner"), Value: aws.String("stale")},
			}}, nil
		},
		PutBucketTaggingFunc: func(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
			put = params
			return &s3.PutBucketTaggingOutput{}, nil
		},
	}

	err := NewS3Buckets(mock, testScope).ApplyTag(context.Background(), "logs", "Owner", "alice")
	require.NoError(t, err)

	require.NotNil(t, put)
	assert.Equal(t, "logs", aws.ToString(put.Bucket))
	tags := map[string]string{}
	for _, tag := range put.Tagging.TagSet {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	assert.Equal(t, map[string]string{"team": "data", "Owner": "alice"}, tags)
}

func TestLocationRegion(t *testing.T) {
	assert.Equal(t, "us-east-1", locationRegion(""))
	assert.Equal(t, "eu-west-1", locationRegion(s3types.BucketLocationConstraintEu))
	assert.Equal(t, "ap-south-1", locationRegion(s3types.BucketLocationConstraintApSouth1))
}
