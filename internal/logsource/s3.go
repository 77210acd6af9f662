package logsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"

	"github.com/yairfalse/lassie/internal/config"
	"github.com/yairfalse/lassie/internal/retry"
	"github.com/yairfalse/lassie/internal/telemetry"
	"github.com/yairfalse/lassie/pkg/trail"
)

// S3API is the subset of the S3 client used to fetch trail objects.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads CloudTrail log files delivered to an S3 bucket.
type S3Source struct {
	client  S3API
	scratch *Scratch
	trail   config.TrailConfig
	maxDays int
	policy  retry.Policy
	logger  *telemetry.Logger
}

// NewS3Source creates a source reading from the trail's bucket. Listing
// pages and object downloads are retried under policy.
func NewS3Source(client S3API, scratch *Scratch, trail config.TrailConfig, maxDays int, policy retry.Policy) *S3Source {
	return &S3Source{
		client:  client,
		scratch: scratch,
		trail:   trail,
		maxDays: maxDays,
		policy:  policy,
		logger:  telemetry.NewLogger("logsource.s3"),
	}
}

// DayPrefix is the key prefix CloudTrail delivers one day of a region's
// logs under.
func (s *S3Source) DayPrefix(accountID, region string, day time.Time) string {
	parts := []string{}
	if p := strings.Trim(s.trail.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, "AWSLogs")
	if s.trail.OrganizationID != "" {
		parts = append(parts, s.trail.OrganizationID)
	}
	parts = append(parts, accountID, "CloudTrail", region, day.Format("2006/01/02"))
	return path.Join(parts...) + "/"
}

// Acquire downloads and decompresses every log object of the pair in the
// requested range. Documents are ordered by key, which CloudTrail makes
// chronological within a region.
func (s *S3Source) Acquire(ctx context.Context, req Request) (*Batch, error) {
	dir, err := s.scratch.Dir(req.AccountID, req.Region)
	if err != nil {
		return nil, err
	}
	release := func() error { return os.RemoveAll(dir) }

	var keys []string
	for _, day := range Days(req.Start, req.End, s.maxDays) {
		dayKeys, err := s.list(ctx, s.DayPrefix(req.AccountID, req.Region, day))
		if err != nil {
			_ = release()
			return nil, err
		}
		keys = append(keys, dayKeys...)
	}
	sort.Strings(keys)

	docs := make([]trail.Document, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			_ = release()
			return nil, err
		}

		var file string
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			file, err = s.fetch(ctx, key, dir)
			return err
		}, retryNotify(s.logger, "GetObject"))
		if err != nil {
			var corrupt *corruptObjectError
			if errors.As(err, &corrupt) {
				s.logger.Warn().Err(err).Str("key", key).Msg("skipping unreadable log object")
				continue
			}
			_ = release()
			return nil, err
		}
		docs = append(docs, trail.FileDocument(file))
	}

	s.logger.Debug().
		Str("account", req.AccountID).
		Str("region", req.Region).
		Int("documents", len(docs)).
		Msg("staged trail logs")

	return NewBatch(req.AccountID, req.Region, docs, release), nil
}

func (s *S3Source) list(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.trail.Bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		}, retryNotify(s.logger, "ListObjectsV2"))
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.trail.Bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, ".json.gz") {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

type corruptObjectError struct {
	key string
	err error
}

func (e *corruptObjectError) Error() string {
	return fmt.Sprintf("decompress %s: %v", e.key, e.err)
}

func (e *corruptObjectError) Unwrap() error { return e.err }

// fetch downloads key and writes the decompressed content into dir.
func (s *S3Source) fetch(ctx context.Context, key, dir string) (string, error) {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.trail.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("get s3://%s/%s: %w", s.trail.Bucket, key, err)
	}
	defer func() { _ = obj.Body.Close() }()

	name := filepath.Join(dir, strings.TrimSuffix(path.Base(key), ".gz"))
	out, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}

	if err := gunzip(out, obj.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(name)
		return "", &corruptObjectError{key: key, err: err}
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return name, nil
}

func gunzip(dst io.Writer, src io.Reader) error {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return err
	}
	defer func() { _ = zr.Close() }()

	_, err = io.Copy(dst, zr)
	return err
}
