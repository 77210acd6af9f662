package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records reconciliation measurements. The zero value is not usable;
// create one with NewMetrics.
type Metrics struct {
	outcomes         metric.Int64Counter
	tripleFailures   metric.Int64Counter
	duration         metric.Float64Histogram
	eventsExtracted  metric.Int64Counter
	documentsSkipped metric.Int64Counter
	retries          metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider. Instruments
// created before a provider is installed are forwarded to it once it is.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(instrumentationName))
}

// NewMetricsFrom creates the instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.outcomes, err = meter.Int64Counter("lassie_tag_outcomes_total",
		metric.WithDescription("Tag outcomes by kind and status")); err != nil {
		return nil, err
	}
	if m.tripleFailures, err = meter.Int64Counter("lassie_triple_failures_total",
		metric.WithDescription("Account/region/kind reconciliations that failed")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("lassie_reconcile_duration_seconds",
		metric.WithDescription("Duration of one account/region/kind reconciliation"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.eventsExtracted, err = meter.Int64Counter("lassie_events_extracted_total",
		metric.WithDescription("Deduplicated creation events extracted from audit logs")); err != nil {
		return nil, err
	}
	if m.documentsSkipped, err = meter.Int64Counter("lassie_documents_skipped_total",
		metric.WithDescription("Audit-log documents skipped because they could not be read")); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("lassie_retries_total",
		metric.WithDescription("Retried provider calls")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordOutcome counts one tag outcome.
func (m *Metrics) RecordOutcome(ctx context.Context, kind, status string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordTripleFailure counts a failed reconciliation.
func (m *Metrics) RecordTripleFailure(ctx context.Context, kind string) {
	m.tripleFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDuration records how long a reconciliation took.
func (m *Metrics) RecordDuration(ctx context.Context, kind string, d time.Duration) {
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordEvents counts extracted events.
func (m *Metrics) RecordEvents(ctx context.Context, kind string, n int) {
	m.eventsExtracted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSkippedDocument counts an unreadable document.
func (m *Metrics) RecordSkippedDocument(ctx context.Context) {
	m.documentsSkipped.Add(ctx, 1)
}

// RecordRetry counts one retry of operation.
func (m *Metrics) RecordRetry(ctx context.Context, operation string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
