// Package reconciler tags untagged resources with the identity that created
// them, for one account, region and resource kind at a time.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/lassie/internal/kinds"
	"github.com/yairfalse/lassie/internal/retry"
	"github.com/yairfalse/lassie/internal/telemetry"
	"github.com/yairfalse/lassie/pkg/trail"
)

// Reconciler runs extract, query, correlate and tag for one triple.
// It holds no per-triple state and may be shared by concurrent tasks.
type Reconciler struct {
	extractor *trail.Extractor
	policy    retry.Policy
	metrics   *telemetry.Metrics
	logger    *telemetry.Logger
	tracer    trace.Tracer
}

// New creates a reconciler. metrics may be nil.
func New(extractor *trail.Extractor, policy retry.Policy, metrics *telemetry.Metrics) *Reconciler {
	return &Reconciler{
		extractor: extractor,
		policy:    policy,
		metrics:   metrics,
		logger:    telemetry.NewLogger("reconciler"),
		tracer:    telemetry.Tracer(),
	}
}

// Reconcile tags every resource of kind that lacks task.OwnerTag and has a
// creation record in docs. Errors are reported in the result: a failed
// inventory query fails the whole triple, a failed tag call only its
// resource.
func (r *Reconciler) Reconcile(ctx context.Context, task Task, docs []trail.Document, kind kinds.Kind) (result Result) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "reconciler.Reconcile", trace.WithAttributes(
		attribute.String("account", task.Account),
		attribute.String("region", task.Region),
		attribute.String("kind", kind.Name()),
		attribute.Bool("dry_run", task.DryRun),
	))
	defer span.End()

	logger := r.logger.WithContext(ctx).With().
		Str("account", task.Account).
		Str("region", task.Region).
		Str("kind", kind.Name()).
		Logger()

	result = Result{
		Account: task.Account,
		Region:  task.Region,
		Kind:    kind.Name(),
		DryRun:  task.DryRun,
	}
	defer func() {
		result.Duration = time.Since(start)
		r.record(ctx, result)
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
		}
	}()

	events := r.collect(ctx, docs, kind.Rule(), &logger)
	result.Events = len(events)

	var untagged *kinds.ResourceSet
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		set, err := kind.QueryUntagged(ctx, task.OwnerTag)
		if err != nil {
			return err
		}
		if set == nil {
			set = kinds.NewResourceSet()
		}
		untagged = set
		return nil
	}, r.notify(ctx, &logger, "query"))
	if err != nil {
		result.Err = fmt.Errorf("query untagged %s: %w", kind.Name(), err)
		logger.Error().Err(err).Msg("inventory query failed, skipping kind")
		return result
	}

	pending, outcomes := correlate(events, untagged)
	result.Outcomes = outcomes

	for i, idx := range pending {
		outcome := &result.Outcomes[idx]

		if task.DryRun {
			outcome.Status = StatusSkippedDryRun
			logger.Info().
				Str("resource_id", outcome.ResourceID).
				Str("owner", outcome.Owner).
				Msg("dry run, did not tag")
			continue
		}

		if err := ctx.Err(); err != nil {
			for _, rest := range pending[i:] {
				result.Outcomes[rest].Status = StatusFailed
				result.Outcomes[rest].Reason = fmt.Sprintf("not attempted: %v", err)
			}
			logger.Warn().Int("remaining", len(pending)-i).Msg("run cancelled, stopped tagging")
			break
		}

		r.tag(ctx, task, kind, outcome, &logger)
	}

	logger.Info().
		Int("events", result.Events).
		Int("untagged", untagged.Len()).
		Int("tagged", result.Count(StatusTagged)).
		Int("failed", result.Count(StatusFailed)).
		Int("not_found", result.Count(StatusSkippedNotFound)).
		Msg("reconciled")

	return result
}

// collect extracts the creation events of every document, keeping the first
// record seen for each resource. Documents are in write order, so that is
// the earliest creation record.
func (r *Reconciler) collect(ctx context.Context, docs []trail.Document, rule trail.Rule, logger *zerolog.Logger) []trail.CreationEvent {
	seen := make(map[string]bool)
	var events []trail.CreationEvent

	for _, doc := range docs {
		seq, err := r.extractor.Extract(ctx, doc, rule)
		if err != nil {
			logger.Warn().Err(err).Str("document", doc.Name()).Msg("skipping document")
			if r.metrics != nil && errors.Is(err, trail.ErrMalformedDocument) {
				r.metrics.RecordSkippedDocument(ctx)
			}
			continue
		}
		for event := range seq {
			if seen[event.ResourceID] {
				continue
			}
			seen[event.ResourceID] = true
			events = append(events, event)
		}
	}
	return events
}

// correlate builds one outcome per event, in event order, followed by the
// untagged resources that have no event, in identifier order. It returns the
// indexes of the outcomes that need a tag call.
func correlate(events []trail.CreationEvent, untagged *kinds.ResourceSet) ([]int, []TagOutcome) {
	outcomes := make([]TagOutcome, 0, len(events)+untagged.Len())
	var pending []int
	matched := make(map[string]bool, len(events))

	for _, event := range events {
		outcome := TagOutcome{ResourceID: event.ResourceID, Owner: event.Owner}
		if untagged.Has(event.ResourceID) {
			matched[event.ResourceID] = true
			pending = append(pending, len(outcomes))
		} else {
			outcome.Status = StatusSkippedNotUntagged
		}
		outcomes = append(outcomes, outcome)
	}

	for id := range untagged.All() {
		if !matched[id] {
			outcomes = append(outcomes, TagOutcome{ResourceID: id, Status: StatusSkippedNotFound})
		}
	}
	return pending, outcomes
}

// tag applies the owner tag. The call itself runs detached from ctx so a
// stop request never interrupts a mutation; ctx still bounds retry waits.
func (r *Reconciler) tag(ctx context.Context, task Task, kind kinds.Kind, outcome *TagOutcome, logger *zerolog.Logger) {
	detached := context.WithoutCancel(ctx)
	err := r.policy.Do(ctx, func(context.Context) error {
		return kind.ApplyTag(detached, outcome.ResourceID, task.OwnerTag, outcome.Owner)
	}, r.notify(ctx, logger, "tag"))

	if err != nil {
		outcome.Status = StatusFailed
		outcome.Reason = err.Error()
		logger.Error().Err(err).Str("resource_id", outcome.ResourceID).Msg("failed to tag")
		return
	}

	outcome.Status = StatusTagged
	logger.Info().
		Str("resource_id", outcome.ResourceID).
		Str("owner", outcome.Owner).
		Msg("tagged")
}

func (r *Reconciler) notify(ctx context.Context, logger *zerolog.Logger, operation string) retry.Notify {
	return func(attempt int, err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("transient error, retrying")
		if r.metrics != nil {
			r.metrics.RecordRetry(ctx, operation)
		}
	}
}

func (r *Reconciler) record(ctx context.Context, result Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordDuration(ctx, result.Kind, result.Duration)
	r.metrics.RecordEvents(ctx, result.Kind, result.Events)
	for _, o := range result.Outcomes {
		r.metrics.RecordOutcome(ctx, result.Kind, string(o.Status))
	}
	if result.Failed() {
		r.metrics.RecordTripleFailure(ctx, result.Kind)
	}
}
