// Package logsource acquires the CloudTrail documents for one account and
// region and stages them for extraction.
package logsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/lassie/internal/config"
	"github.com/yairfalse/lassie/internal/retry"
	"github.com/yairfalse/lassie/internal/telemetry"
	"github.com/yairfalse/lassie/pkg/trail"
)

// Request selects the logs for one (account, region) pair.
type Request struct {
	AccountID string
	Region    string
	Start     time.Time
	End       time.Time

	// EventNames lists the creation events the pair's kinds look for.
	// Sources that can filter server-side use it; the others ignore it.
	EventNames []string
}

// Source acquires log batches.
type Source interface {
	Acquire(ctx context.Context, req Request) (*Batch, error)
}

// Batch is the set of documents for one (account, region) pair. Release
// must be called once the pair is done, whatever the outcome.
type Batch struct {
	AccountID string
	Region    string
	Documents []trail.Document

	once    sync.Once
	release func() error
	err     error
}

// NewBatch creates a batch. release may be nil.
func NewBatch(accountID, region string, docs []trail.Document, release func() error) *Batch {
	return &Batch{AccountID: accountID, Region: region, Documents: docs, release: release}
}

// Release frees the batch's staged files. Only the first call has effect.
func (b *Batch) Release() error {
	b.once.Do(func() {
		if b.release != nil {
			b.err = b.release()
		}
	})
	return b.err
}

// Days lists the UTC days from start through end. When the range is longer
// than maxDays only the most recent maxDays days are kept.
func Days(start, end time.Time, maxDays int) []time.Time {
	first, last := config.Day(start), config.Day(end)
	if maxDays > 0 {
		if earliest := last.AddDate(0, 0, -(maxDays - 1)); first.Before(earliest) {
			first = earliest
		}
	}

	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// New returns the source configured for the account. cfg is bound to the
// pair's region; trail objects are read from the account's home region.
// Transient read failures are retried under policy.
func New(cfg aws.Config, account config.Account, scratch *Scratch, maxDays int, policy retry.Policy) (Source, error) {
	switch account.Trail.Source {
	case config.SourceS3, "":
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.Region = account.HomeRegion
		})
		return NewS3Source(client, scratch, account.Trail, maxDays, policy), nil
	case config.SourceLookup:
		return NewLookupSource(cloudtrail.NewFromConfig(cfg), maxDays, policy), nil
	}
	return nil, fmt.Errorf("unknown trail source %q", account.Trail.Source)
}

func retryNotify(logger *telemetry.Logger, call string) retry.Notify {
	return func(attempt int, err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("call", call).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("transient error, retrying")
	}
}
