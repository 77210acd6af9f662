package logsource

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/yairfalse/lassie/internal/retry"
	"github.com/yairfalse/lassie/internal/telemetry"
	"github.com/yairfalse/lassie/pkg/trail"
)

// CloudTrailAPI is the subset of the CloudTrail client used by LookupSource.
type CloudTrailAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// LookupSource reads management events through the LookupEvents API, for
// accounts whose trail does not deliver to a readable bucket. LookupEvents
// only covers the last 90 days.
type LookupSource struct {
	client  CloudTrailAPI
	maxDays int
	policy  retry.Policy
	logger  *telemetry.Logger
}

// NewLookupSource creates a source bound to the client's region. Each page
// request is retried under policy.
func NewLookupSource(client CloudTrailAPI, maxDays int, policy retry.Policy) *LookupSource {
	return &LookupSource{
		client:  client,
		maxDays: maxDays,
		policy:  policy,
		logger:  telemetry.NewLogger("logsource.lookup"),
	}
}

// Acquire builds one document per event name. LookupEvents returns newest
// first, so records are reversed to keep documents in write order.
func (s *LookupSource) Acquire(ctx context.Context, req Request) (*Batch, error) {
	days := Days(req.Start, req.End, s.maxDays)
	if len(days) == 0 {
		return NewBatch(req.AccountID, req.Region, nil, nil), nil
	}
	start, end := days[0], req.End

	names := slices.Clone(req.EventNames)
	slices.Sort(names)
	names = slices.Compact(names)

	docs := make([]trail.Document, 0, len(names))
	for _, name := range names {
		records, err := s.lookup(ctx, name, start, end)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}
		slices.Reverse(records)

		docs = append(docs, trail.BytesDocument{
			Label: fmt.Sprintf("lookup:%s:%s:%s", req.AccountID, req.Region, name),
			Data:  wrapRecords(records),
		})
	}

	s.logger.Debug().
		Str("account", req.AccountID).
		Str("region", req.Region).
		Int("documents", len(docs)).
		Msg("looked up trail events")

	return NewBatch(req.AccountID, req.Region, docs, nil), nil
}

func (s *LookupSource) lookup(ctx context.Context, eventName string, start, end time.Time) ([]string, error) {
	paginator := cloudtrail.NewLookupEventsPaginator(s.client, &cloudtrail.LookupEventsInput{
		LookupAttributes: []types.LookupAttribute{{
			AttributeKey:   types.LookupAttributeKeyEventName,
			AttributeValue: aws.String(eventName),
		}},
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
	}, func(o *cloudtrail.LookupEventsPaginatorOptions) {
		o.Limit = 50
	})

	var records []string
	for paginator.HasMorePages() {
		// A failed page leaves the paginator's token untouched, so the
		// same page is requested again.
		var page *cloudtrail.LookupEventsOutput
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		}, retryNotify(s.logger, "LookupEvents"))
		if err != nil {
			return nil, fmt.Errorf("lookup %s events: %w", eventName, err)
		}
		for _, event := range page.Events {
			if raw := aws.ToString(event.CloudTrailEvent); raw != "" {
				records = append(records, raw)
			}
		}
	}
	return records, nil
}

// wrapRecords assembles raw event JSON into the layout of a delivered log
// file.
func wrapRecords(records []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"Records":[`)
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(r)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}
